package caltrain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tidbyt.dev/caltrain/model"
	"tidbyt.dev/caltrain/storage"
)

const (
	DefaultLocationMaxAge = 30 * time.Minute

	stateLocationLat     = "location.lat"
	stateLocationLon     = "location.lon"
	stateLocationUpdated = "location.updated_at"
	stateNearestStation  = "location.nearest_station"
)

// Source of the device's current position. Returns false when no
// fix is available.
type LocationProvider interface {
	CurrentCoordinate(ctx context.Context) (model.Coordinate, bool)
}

// A LocationProvider with a fixed answer.
type StaticLocation struct {
	Coordinate model.Coordinate
}

func (s StaticLocation) CurrentCoordinate(ctx context.Context) (model.Coordinate, bool) {
	if s.Coordinate.IsZero() {
		return model.Coordinate{}, false
	}
	return s.Coordinate, true
}

// Last known coordinate and nearest station, persisted in the state
// store so that every surface sees the same values.
type LocationCache struct {
	MaxAge  time.Duration
	TimeNow func() time.Time

	state storage.StateStore
}

type CachedLocation struct {
	Coordinate       model.Coordinate
	NearestStationID string
	UpdatedAt        time.Time
}

func NewLocationCache(state storage.StateStore) *LocationCache {
	return &LocationCache{
		MaxAge:  DefaultLocationMaxAge,
		TimeNow: time.Now,
		state:   state,
	}
}

func (c *LocationCache) Save(coord model.Coordinate, nearestStationID string) error {
	values := [][2]string{
		{stateLocationLat, strconv.FormatFloat(coord.Lat, 'f', -1, 64)},
		{stateLocationLon, strconv.FormatFloat(coord.Lon, 'f', -1, 64)},
		{stateNearestStation, nearestStationID},
		{stateLocationUpdated, strconv.FormatInt(c.TimeNow().UnixMilli(), 10)},
	}
	for _, kv := range values {
		err := c.state.PutState(kv[0], kv[1])
		if err != nil {
			return fmt.Errorf("caching location: %w", err)
		}
	}
	return nil
}

// Returns whatever is cached. A zero coordinate means none is.
func (c *LocationCache) Load() (CachedLocation, error) {
	cached := CachedLocation{}

	lat, latFound, err := c.getFloat(stateLocationLat)
	if err != nil {
		return cached, err
	}
	lon, lonFound, err := c.getFloat(stateLocationLon)
	if err != nil {
		return cached, err
	}
	if latFound && lonFound {
		cached.Coordinate = model.Coordinate{Lat: lat, Lon: lon}
	}

	id, _, err := c.state.GetState(stateNearestStation)
	if err != nil {
		return cached, fmt.Errorf("reading nearest station: %w", err)
	}
	cached.NearestStationID = id

	updated, found, err := loadTimeState(c.state, stateLocationUpdated)
	if err != nil {
		return cached, err
	}
	if found {
		cached.UpdatedAt = updated
	}

	return cached, nil
}

// True if the cache was written less than MaxAge ago.
func (c *LocationCache) Fresh(cached CachedLocation) bool {
	if cached.UpdatedAt.IsZero() {
		return false
	}
	return c.TimeNow().Sub(cached.UpdatedAt) < c.MaxAge
}

func (c *LocationCache) getFloat(key string) (float64, bool, error) {
	value, found, err := c.state.GetState(key)
	if err != nil {
		return 0, false, fmt.Errorf("reading '%s': %w", key, err)
	}
	if !found {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parsing '%s': %w", key, err)
	}
	return f, true, nil
}

// Which station to show. An empty StationID means the station the
// rider selected, or the nearest one if none is. NearestStationID
// always follows the rider's location.
type StationSelection struct {
	StationID string
}

const NearestStationID = "nearest"

type ResolvedStation struct {
	Station model.Station `json:"station"`

	// Set when resolved by location.
	DistanceMeters float64 `json:"distanceMeters,omitempty"`
	ByLocation     bool    `json:"byLocation"`

	// Resolved from a cached location older than MaxAge.
	Stale bool `json:"stale"`
}

// Resolves a selection against the directory. An explicit station
// ID must exist. Location based selections use the current
// coordinate (and cache it), falling back to the cached nearest
// station and then the cached coordinate.
func (e *Engine) ResolveStation(ctx context.Context, sel StationSelection) (ResolvedStation, error) {
	dir, err := e.Directory()
	if err != nil {
		return ResolvedStation{}, err
	}
	if dir.Len() == 0 {
		return ResolvedStation{}, ErrNoStation
	}

	if sel.StationID != "" && sel.StationID != NearestStationID {
		st, found := dir.Station(sel.StationID)
		if !found {
			return ResolvedStation{}, fmt.Errorf("%w: '%s'", ErrNoStation, sel.StationID)
		}
		return ResolvedStation{Station: st}, nil
	}

	if sel.StationID == "" {
		if st, found := dir.Selected(); found {
			return ResolvedStation{Station: st}, nil
		}
	}

	if e.Location != nil {
		if coord, ok := e.Location.CurrentCoordinate(ctx); ok {
			st, distance, _ := NearestStation(coord, dir.stations)
			err = e.Locations.Save(coord, st.ID)
			if err != nil {
				e.Logger.Warn("caching location failed", "error", err)
			}
			return ResolvedStation{Station: st, DistanceMeters: distance, ByLocation: true}, nil
		}
	}

	cached, err := e.Locations.Load()
	if err != nil {
		return ResolvedStation{}, errors.Join(ErrNoLocation, err)
	}
	stale := !e.Locations.Fresh(cached)

	if st, found := dir.Station(cached.NearestStationID); found {
		resolved := ResolvedStation{Station: st, ByLocation: true, Stale: stale}
		if !cached.Coordinate.IsZero() {
			resolved.DistanceMeters = model.DistanceMeters(cached.Coordinate, st.Coordinate)
		}
		return resolved, nil
	}

	if !cached.Coordinate.IsZero() {
		st, distance, _ := NearestStation(cached.Coordinate, dir.stations)
		return ResolvedStation{Station: st, DistanceMeters: distance, ByLocation: true, Stale: stale}, nil
	}

	return ResolvedStation{}, ErrNoLocation
}
