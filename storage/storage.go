package storage

import (
	"errors"
	"sort"

	"tidbyt.dev/caltrain/model"
)

// The current set of live departures. The whole set is replaced on
// every refresh.
type DepartureCache interface {
	// Replaces all cached departures. Readers observe either the
	// full previous set or the full new set. On error, the
	// previous set is retained.
	ReplaceDepartures(departures []model.LiveDeparture) error

	// Departures for a station, ordered by scheduled time.
	DeparturesForStation(stationID string) ([]model.LiveDeparture, error)
}

type StationStore interface {
	// All stations, ordered by ID.
	Stations() ([]model.Station, error)

	// Applies updates, inserts and deletions in a single
	// operation.
	ApplyStationSync(sync model.StationSync) error
}

type ScheduleStore interface {
	// Replaces the full baseline timetable.
	ReplaceSchedule(departures []model.ScheduledDeparture) error

	// Baseline departures from any of the given platforms, in no
	// particular order.
	ScheduleForPlatforms(platformIDs ...string) ([]model.ScheduledDeparture, error)
}

// Small key/value namespace shared by every consumer of the same
// storage: last refresh, last known location, sync timestamps.
type StateStore interface {
	// Returns the value for key, and whether it was found.
	GetState(key string) (string, bool, error)
	PutState(key string, value string) error
}

type Storage interface {
	DepartureCache
	StationStore
	ScheduleStore
	StateStore
	Close() error
}

// Departure cache and state that can be shared between processes.
type SharedStore interface {
	DepartureCache
	StateStore
	Close() error
}

type overlayStorage struct {
	Storage
	shared SharedStore
}

// Routes departures and state to shared, and everything else to
// base. Closing the result closes both.
func WithShared(base Storage, shared SharedStore) Storage {
	return &overlayStorage{Storage: base, shared: shared}
}

func (o *overlayStorage) ReplaceDepartures(departures []model.LiveDeparture) error {
	return o.shared.ReplaceDepartures(departures)
}

func (o *overlayStorage) DeparturesForStation(stationID string) ([]model.LiveDeparture, error) {
	return o.shared.DeparturesForStation(stationID)
}

func (o *overlayStorage) GetState(key string) (string, bool, error) {
	return o.shared.GetState(key)
}

func (o *overlayStorage) PutState(key string, value string) error {
	return o.shared.PutState(key, value)
}

func (o *overlayStorage) Close() error {
	return errors.Join(o.shared.Close(), o.Storage.Close())
}

// Sorts by scheduled time, keeping input order for ties.
func sortDepartures(departures []model.LiveDeparture) {
	sort.SliceStable(departures, func(i, j int) bool {
		return departures[i].ScheduledTime.Before(departures[j].ScheduledTime)
	})
}

func sortStations(stations []model.Station) {
	sort.Slice(stations, func(i, j int) bool {
		return stations[i].ID < stations[j].ID
	})
}
