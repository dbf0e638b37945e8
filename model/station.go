package model

import (
	"fmt"
	"math"
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c Coordinate) IsZero() bool {
	return c.Lat == 0 && c.Lon == 0
}

const earthRadiusMeters = 6371000.0

// Great-circle distance between two coordinates, in meters.
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

type Amenities struct {
	Parking        bool `json:"hasParking"`
	ParkingSpaces  int  `json:"parkingSpaces"`
	BikeParking    bool `json:"hasBikeParking"`
	BikeRacks      int  `json:"bikeRacks"`
	BikeLockers    bool `json:"hasBikeLockers"`
	Restrooms      bool `json:"hasRestrooms"`
	TicketMachines int  `json:"ticketMachines"`
	Elevator       bool `json:"hasElevator"`
}

type Address struct {
	Full       string `json:"full,omitempty"`
	Number     string `json:"number,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country,omitempty"`
}

type Station struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ShortCode     string     `json:"shortCode"`
	PlatformNorth string     `json:"platformNorth"`
	PlatformSouth string     `json:"platformSouth"`
	Coordinate    Coordinate `json:"coordinate"`
	Zone          int        `json:"zone"`
	Address       Address    `json:"address"`
	Amenities     Amenities  `json:"amenities"`

	// User preferences. Never overwritten by a directory sync.
	Favorite bool `json:"favorite"`
	Selected bool `json:"selected"`
}

func (s Station) PlatformIDs() []string {
	return []string{s.PlatformNorth, s.PlatformSouth}
}

// Direction served by one of the station's platforms.
func (s Station) DirectionOf(platformID string) (Direction, bool) {
	switch platformID {
	case s.PlatformNorth:
		return DirectionNorth, true
	case s.PlatformSouth:
		return DirectionSouth, true
	}
	return 0, false
}

// Checks that station and platform IDs are present and unique across
// the whole set, and that no station shares a platform between
// directions.
func ValidateStations(stations []Station) error {
	ids := map[string]bool{}
	platforms := map[string]string{}
	for _, st := range stations {
		if st.ID == "" {
			return fmt.Errorf("empty station id")
		}
		if ids[st.ID] {
			return fmt.Errorf("repeated station id '%s'", st.ID)
		}
		ids[st.ID] = true

		if st.PlatformNorth == "" || st.PlatformSouth == "" {
			return fmt.Errorf("station '%s' is missing a platform id", st.ID)
		}
		if st.PlatformNorth == st.PlatformSouth {
			return fmt.Errorf("station '%s' uses platform '%s' in both directions", st.ID, st.PlatformNorth)
		}
		for _, p := range st.PlatformIDs() {
			if other, found := platforms[p]; found {
				return fmt.Errorf("platform '%s' used by both '%s' and '%s'", p, other, st.ID)
			}
			platforms[p] = st.ID
		}
	}
	return nil
}

// Result of reconciling a refreshed directory with the stored one.
type StationSync struct {
	Updates   []Station
	Inserts   []Station
	Deletions []string
}

func (s StationSync) Empty() bool {
	return len(s.Updates) == 0 && len(s.Inserts) == 0 && len(s.Deletions) == 0
}
