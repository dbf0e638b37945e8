package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"tidbyt.dev/caltrain/model"
)

// In memory implementation of Storage below

// Immutable once published.
type departureSnapshot struct {
	byStation map[string][]model.LiveDeparture
}

type MemoryStorage struct {
	departures atomic.Pointer[departureSnapshot]

	mutex    sync.RWMutex
	stations map[string]model.Station
	schedule map[string][]model.ScheduledDeparture
	state    map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	s := &MemoryStorage{
		stations: map[string]model.Station{},
		schedule: map[string][]model.ScheduledDeparture{},
		state:    map[string]string{},
	}
	s.departures.Store(&departureSnapshot{byStation: map[string][]model.LiveDeparture{}})
	return s
}

func (s *MemoryStorage) ReplaceDepartures(departures []model.LiveDeparture) error {
	next := &departureSnapshot{byStation: map[string][]model.LiveDeparture{}}
	for _, d := range departures {
		if d.StationID == "" {
			return fmt.Errorf("departure '%s' has no station", d.ID)
		}
		next.byStation[d.StationID] = append(next.byStation[d.StationID], d)
	}
	for _, ds := range next.byStation {
		sortDepartures(ds)
	}

	s.departures.Store(next)
	return nil
}

func (s *MemoryStorage) DeparturesForStation(stationID string) ([]model.LiveDeparture, error) {
	snapshot := s.departures.Load()
	ds := snapshot.byStation[stationID]

	// Callers are free to modify what they get
	result := make([]model.LiveDeparture, len(ds))
	copy(result, ds)
	return result, nil
}

func (s *MemoryStorage) Stations() ([]model.Station, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stations := make([]model.Station, 0, len(s.stations))
	for _, st := range s.stations {
		stations = append(stations, st)
	}
	sortStations(stations)
	return stations, nil
}

func (s *MemoryStorage) ApplyStationSync(sync model.StationSync) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, st := range sync.Updates {
		if _, found := s.stations[st.ID]; !found {
			return fmt.Errorf("updating unknown station '%s'", st.ID)
		}
	}
	for _, st := range sync.Inserts {
		if _, found := s.stations[st.ID]; found {
			return fmt.Errorf("inserting existing station '%s'", st.ID)
		}
	}

	for _, id := range sync.Deletions {
		delete(s.stations, id)
	}
	for _, st := range sync.Updates {
		s.stations[st.ID] = st
	}
	for _, st := range sync.Inserts {
		s.stations[st.ID] = st
	}
	return nil
}

func (s *MemoryStorage) ReplaceSchedule(departures []model.ScheduledDeparture) error {
	next := map[string][]model.ScheduledDeparture{}
	for _, d := range departures {
		next[d.PlatformID] = append(next[d.PlatformID], d)
	}

	s.mutex.Lock()
	s.schedule = next
	s.mutex.Unlock()
	return nil
}

func (s *MemoryStorage) ScheduleForPlatforms(platformIDs ...string) ([]model.ScheduledDeparture, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := []model.ScheduledDeparture{}
	for _, id := range platformIDs {
		result = append(result, s.schedule[id]...)
	}
	return result, nil
}

func (s *MemoryStorage) GetState(key string) (string, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	value, found := s.state[key]
	return value, found, nil
}

func (s *MemoryStorage) PutState(key string, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.state[key] = value
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
