package caltrain

import (
	"time"

	"tidbyt.dev/caltrain/storage"
)

const (
	DefaultStationSyncInterval   = 7 * 24 * time.Hour
	DefaultTimetableSyncInterval = 24 * time.Hour
)

type SyncKind string

const (
	SyncStations  SyncKind = "stations"
	SyncTimetable SyncKind = "timetable"
)

// Tracks when the station directory and timetable were last
// synced. Shares the gate's state store.
type SyncRegistry struct {
	Intervals map[SyncKind]time.Duration
	TimeNow   func() time.Time

	state storage.StateStore
}

func NewSyncRegistry(state storage.StateStore) *SyncRegistry {
	return &SyncRegistry{
		Intervals: map[SyncKind]time.Duration{
			SyncStations:  DefaultStationSyncInterval,
			SyncTimetable: DefaultTimetableSyncInterval,
		},
		TimeNow: time.Now,
		state:   state,
	}
}

func syncKey(kind SyncKind) string {
	return "sync." + string(kind)
}

func (r *SyncRegistry) LastSync(kind SyncKind) (time.Time, bool, error) {
	return loadTimeState(r.state, syncKey(kind))
}

// True if never synced, or if the interval for kind has passed.
func (r *SyncRegistry) NeedsSync(kind SyncKind) (bool, error) {
	last, found, err := r.LastSync(kind)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return r.TimeNow().Sub(last) > r.Intervals[kind], nil
}

func (r *SyncRegistry) MarkSynced(kind SyncKind) error {
	return storeTimeState(r.state, syncKey(kind), r.TimeNow())
}
