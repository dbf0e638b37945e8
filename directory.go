package caltrain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"tidbyt.dev/caltrain/model"
)

const metersPerMile = 1609.34

type platformRef struct {
	station   int
	direction model.Direction
}

// An immutable, validated set of stations with lookups by station
// ID, platform ID and name.
type Directory struct {
	stations   []model.Station
	byID       map[string]int
	byPlatform map[string]platformRef
	names      *stationNames
}

func NewDirectory(stations []model.Station) (*Directory, error) {
	err := model.ValidateStations(stations)
	if err != nil {
		return nil, fmt.Errorf("invalid directory: %w", err)
	}

	d := &Directory{
		stations:   make([]model.Station, len(stations)),
		byID:       map[string]int{},
		byPlatform: map[string]platformRef{},
	}
	copy(d.stations, stations)

	for i, st := range d.stations {
		d.byID[st.ID] = i
		d.byPlatform[st.PlatformNorth] = platformRef{i, model.DirectionNorth}
		d.byPlatform[st.PlatformSouth] = platformRef{i, model.DirectionSouth}
	}
	d.names = newStationNames(d.stations)

	return d, nil
}

func (d *Directory) Len() int {
	return len(d.stations)
}

func (d *Directory) Stations() []model.Station {
	stations := make([]model.Station, len(d.stations))
	copy(stations, d.stations)
	return stations
}

func (d *Directory) Station(id string) (model.Station, bool) {
	i, found := d.byID[id]
	if !found {
		return model.Station{}, false
	}
	return d.stations[i], true
}

// Station and direction served by a platform.
func (d *Directory) ResolvePlatform(platformID string) (model.Station, model.Direction, bool) {
	ref, found := d.byPlatform[platformID]
	if !found {
		return model.Station{}, 0, false
	}
	return d.stations[ref.station], ref.direction, true
}

// The station with the Selected flag set, if any.
func (d *Directory) Selected() (model.Station, bool) {
	for _, st := range d.stations {
		if st.Selected {
			return st, true
		}
	}
	return model.Station{}, false
}

func (d *Directory) Favorites() []model.Station {
	favorites := []model.Station{}
	for _, st := range d.stations {
		if st.Favorite {
			favorites = append(favorites, st)
		}
	}
	return favorites
}

// Resolves a station ID, a short code or a typed name. Names are
// matched case-insensitively, falling back to the closest fuzzy match
// by Levenshtein distance.
func (d *Directory) Lookup(query string) (model.Station, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return model.Station{}, false
	}

	if st, found := d.Station(query); found {
		return st, true
	}
	for _, st := range d.stations {
		if strings.EqualFold(st.ShortCode, query) || strings.EqualFold(st.Name, query) {
			return st, true
		}
	}

	names := make([]string, len(d.stations))
	for i, st := range d.stations {
		names[i] = st.Name
	}

	ranks := fuzzy.RankFindNormalizedFold(query, names)
	if len(ranks) == 0 {
		return model.Station{}, false
	}
	sort.Stable(ranks)

	return d.stations[ranks[0].OriginalIndex], true
}

// Closest station to coord and its great-circle distance in
// meters. On exact ties, the first station wins.
func NearestStation(coord model.Coordinate, stations []model.Station) (model.Station, float64, bool) {
	if len(stations) == 0 {
		return model.Station{}, 0, false
	}

	best := 0
	bestDistance := model.DistanceMeters(coord, stations[0].Coordinate)
	for i := 1; i < len(stations); i++ {
		distance := model.DistanceMeters(coord, stations[i].Coordinate)
		if distance < bestDistance {
			best = i
			bestDistance = distance
		}
	}

	return stations[best], bestDistance, true
}

// Human readable distance in miles.
func FormatDistance(meters float64) string {
	miles := meters / metersPerMile
	if miles < 0.1 {
		return "Nearby"
	}
	if miles < 1 {
		return fmt.Sprintf("%.1f mi", miles)
	}
	return fmt.Sprintf("%.0f mi", miles)
}
