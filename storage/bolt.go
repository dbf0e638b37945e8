package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"tidbyt.dev/caltrain/model"
)

// Bucket names
var (
	bucketDepartures = []byte("departures")
	bucketStations   = []byte("stations")
	bucketSchedule   = []byte("schedule")
	bucketState      = []byte("state")
)

// Storage on a single bbolt file. Departures and schedule are stored
// as one JSON list per station and platform respectively.
type BoltStorage struct {
	db *bolt.DB
}

func NewBoltStorage(directory string) (*BoltStorage, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(directory, "caltrain.bolt"), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketDepartures, bucketStations, bucketSchedule, bucketState} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStorage{db: db}, nil
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// Drops and recreates a bucket within tx.
func recreateBucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return nil, err
	}
	return tx.CreateBucket(name)
}

func (s *BoltStorage) ReplaceDepartures(departures []model.LiveDeparture) error {
	byStation := map[string][]model.LiveDeparture{}
	for _, d := range departures {
		byStation[d.StationID] = append(byStation[d.StationID], d)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := recreateBucket(tx, bucketDepartures)
		if err != nil {
			return fmt.Errorf("recreating departures bucket: %w", err)
		}

		for stationID, ds := range byStation {
			if stationID == "" {
				return fmt.Errorf("departure '%s' has no station", ds[0].ID)
			}
			sortDepartures(ds)
			data, err := json.Marshal(ds)
			if err != nil {
				return fmt.Errorf("marshaling departures: %w", err)
			}
			if err := b.Put([]byte(stationID), data); err != nil {
				return fmt.Errorf("writing departures for '%s': %w", stationID, err)
			}
		}
		return nil
	})
}

func (s *BoltStorage) DeparturesForStation(stationID string) ([]model.LiveDeparture, error) {
	departures := []model.LiveDeparture{}
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDepartures).Get([]byte(stationID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &departures)
	})
	if err != nil {
		return nil, fmt.Errorf("reading departures: %w", err)
	}
	return departures, nil
}

func (s *BoltStorage) Stations() ([]model.Station, error) {
	stations := []model.Station{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStations).ForEach(func(k, v []byte) error {
			var st model.Station
			if err := json.Unmarshal(v, &st); err != nil {
				return fmt.Errorf("unmarshaling station '%s': %w", string(k), err)
			}
			stations = append(stations, st)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading stations: %w", err)
	}

	// Keys iterate in byte order already, but be explicit
	sortStations(stations)
	return stations, nil
}

func (s *BoltStorage) ApplyStationSync(sync model.StationSync) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStations)

		for _, id := range sync.Deletions {
			if err := b.Delete([]byte(id)); err != nil {
				return fmt.Errorf("deleting station '%s': %w", id, err)
			}
		}

		put := func(st model.Station, mustExist bool) error {
			exists := b.Get([]byte(st.ID)) != nil
			if mustExist && !exists {
				return fmt.Errorf("updating unknown station '%s'", st.ID)
			}
			if !mustExist && exists {
				return fmt.Errorf("inserting existing station '%s'", st.ID)
			}
			data, err := json.Marshal(st)
			if err != nil {
				return fmt.Errorf("marshaling station '%s': %w", st.ID, err)
			}
			return b.Put([]byte(st.ID), data)
		}

		for _, st := range sync.Updates {
			if err := put(st, true); err != nil {
				return err
			}
		}
		for _, st := range sync.Inserts {
			if err := put(st, false); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStorage) ReplaceSchedule(departures []model.ScheduledDeparture) error {
	byPlatform := map[string][]model.ScheduledDeparture{}
	for _, d := range departures {
		byPlatform[d.PlatformID] = append(byPlatform[d.PlatformID], d)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := recreateBucket(tx, bucketSchedule)
		if err != nil {
			return fmt.Errorf("recreating schedule bucket: %w", err)
		}
		for platformID, ds := range byPlatform {
			data, err := json.Marshal(ds)
			if err != nil {
				return fmt.Errorf("marshaling schedule: %w", err)
			}
			if err := b.Put([]byte(platformID), data); err != nil {
				return fmt.Errorf("writing schedule for '%s': %w", platformID, err)
			}
		}
		return nil
	})
}

func (s *BoltStorage) ScheduleForPlatforms(platformIDs ...string) ([]model.ScheduledDeparture, error) {
	result := []model.ScheduledDeparture{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedule)
		for _, id := range platformIDs {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			ds := []model.ScheduledDeparture{}
			if err := json.Unmarshal(data, &ds); err != nil {
				return fmt.Errorf("unmarshaling schedule for '%s': %w", id, err)
			}
			result = append(result, ds...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading schedule: %w", err)
	}
	return result, nil
}

func (s *BoltStorage) GetState(key string) (string, bool, error) {
	var value string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketState).Get([]byte(key))
		if data != nil {
			value, found = string(data), true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("reading state '%s': %w", key, err)
	}
	return value, found, nil
}

func (s *BoltStorage) PutState(key string, value string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("writing state '%s': %w", key, err)
	}
	return nil
}
