package parse

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"

	"tidbyt.dev/caltrain/model"
)

// A versioned station directory, as bundled with clients or served
// by the directory endpoint.
type StationDirectory struct {
	Stations    []model.Station
	Version     string
	LastUpdated string
}

type stationDirectoryJSON struct {
	Stations    []stationJSON `json:"stations"`
	Version     string        `json:"version"`
	LastUpdated string        `json:"lastUpdated"`
}

type stationJSON struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	ShortCode         string  `json:"shortCode"`
	GTFSStopIDNorth   string  `json:"gtfsStopIdNorth"`
	GTFSStopIDSouth   string  `json:"gtfsStopIdSouth"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	Zone              int     `json:"zone"`
	Address           string  `json:"address"`
	AddressNumber     string  `json:"addressNumber"`
	AddressStreet     string  `json:"addressStreet"`
	AddressCity       string  `json:"addressCity"`
	AddressPostalCode string  `json:"addressPostalCode"`
	AddressState      string  `json:"addressState"`
	AddressCountry    string  `json:"addressCountry"`
	HasParking        bool    `json:"hasParking"`
	HasBikeParking    bool    `json:"hasBikeParking"`
	ParkingSpaces     int     `json:"parkingSpaces"`
	BikeRacks         int     `json:"bikeRacks"`
	HasBikeLockers    bool    `json:"hasBikeLockers"`
	HasRestrooms      bool    `json:"hasRestrooms"`
	TicketMachines    int     `json:"ticketMachines"`
	HasElevator       bool    `json:"hasElevator"`
}

// Parses a JSON station directory. The directory is rejected as a
// whole if any station is invalid.
func ParseStationDirectory(data io.Reader) (*StationDirectory, error) {
	raw := stationDirectoryJSON{}
	if err := json.NewDecoder(bom.NewReader(data)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshaling station directory: %w", err)
	}

	dir := &StationDirectory{
		Version:     raw.Version,
		LastUpdated: raw.LastUpdated,
		Stations:    make([]model.Station, 0, len(raw.Stations)),
	}

	for _, st := range raw.Stations {
		if st.Name == "" {
			return nil, fmt.Errorf("empty name for station '%s'", st.ID)
		}
		dir.Stations = append(dir.Stations, model.Station{
			ID:            st.ID,
			Name:          st.Name,
			ShortCode:     st.ShortCode,
			PlatformNorth: st.GTFSStopIDNorth,
			PlatformSouth: st.GTFSStopIDSouth,
			Coordinate:    model.Coordinate{Lat: st.Latitude, Lon: st.Longitude},
			Zone:          st.Zone,
			Address: model.Address{
				Full:       st.Address,
				Number:     st.AddressNumber,
				Street:     st.AddressStreet,
				City:       st.AddressCity,
				PostalCode: st.AddressPostalCode,
				State:      st.AddressState,
				Country:    st.AddressCountry,
			},
			Amenities: model.Amenities{
				Parking:        st.HasParking,
				ParkingSpaces:  st.ParkingSpaces,
				BikeParking:    st.HasBikeParking,
				BikeRacks:      st.BikeRacks,
				BikeLockers:    st.HasBikeLockers,
				Restrooms:      st.HasRestrooms,
				TicketMachines: st.TicketMachines,
				Elevator:       st.HasElevator,
			},
		})
	}

	if err := model.ValidateStations(dir.Stations); err != nil {
		return nil, err
	}

	return dir, nil
}

type StationCSV struct {
	ID             string  `csv:"station_id"`
	Name           string  `csv:"station_name"`
	ShortCode      string  `csv:"short_code"`
	PlatformNorth  string  `csv:"platform_north"`
	PlatformSouth  string  `csv:"platform_south"`
	Lat            float64 `csv:"station_lat"`
	Lon            float64 `csv:"station_lon"`
	Zone           int     `csv:"zone"`
	Address        string  `csv:"address"`
	Parking        bool    `csv:"parking"`
	ParkingSpaces  int     `csv:"parking_spaces"`
	BikeParking    bool    `csv:"bike_parking"`
	BikeRacks      int     `csv:"bike_racks"`
	BikeLockers    bool    `csv:"bike_lockers"`
	Restrooms      bool    `csv:"restrooms"`
	TicketMachines int     `csv:"ticket_machines"`
	Elevator       bool    `csv:"elevator"`
}

// Parses a station directory from CSV. Columns beyond station_id,
// station_name and the two platform ids are optional.
func ParseStationsCSV(data io.Reader) ([]model.Station, error) {
	stationCsv := []*StationCSV{}
	if err := gocsv.Unmarshal(bom.NewReader(data), &stationCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling stations csv: %w", err)
	}

	stations := make([]model.Station, 0, len(stationCsv))
	for _, st := range stationCsv {
		if st.Name == "" {
			return nil, fmt.Errorf("empty station_name for station_id '%s'", st.ID)
		}

		// Coordinates are needed for nearest station lookups
		if st.Lat == 0 || st.Lon == 0 {
			return nil, fmt.Errorf("empty station_lat or station_lon for station_id '%s'", st.ID)
		}

		stations = append(stations, model.Station{
			ID:            st.ID,
			Name:          st.Name,
			ShortCode:     st.ShortCode,
			PlatformNorth: st.PlatformNorth,
			PlatformSouth: st.PlatformSouth,
			Coordinate:    model.Coordinate{Lat: st.Lat, Lon: st.Lon},
			Zone:          st.Zone,
			Address:       model.Address{Full: st.Address},
			Amenities: model.Amenities{
				Parking:        st.Parking,
				ParkingSpaces:  st.ParkingSpaces,
				BikeParking:    st.BikeParking,
				BikeRacks:      st.BikeRacks,
				BikeLockers:    st.BikeLockers,
				Restrooms:      st.Restrooms,
				TicketMachines: st.TicketMachines,
				Elevator:       st.Elevator,
			},
		})
	}

	if err := model.ValidateStations(stations); err != nil {
		return nil, err
	}

	return stations, nil
}
