package parse

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/caltrain/model"
)

func TestParseStationDirectory(t *testing.T) {
	data := `{
  "version": "2026.02",
  "lastUpdated": "2026-02-10T00:00:00Z",
  "stations": [
    {
      "id": "sf", "name": "San Francisco", "shortCode": "SF",
      "gtfsStopIdSouth": "70011", "gtfsStopIdNorth": "70012",
      "latitude": 37.776439, "longitude": -122.394434, "zone": 1,
      "address": "700 4th Street", "addressCity": "San Francisco",
      "hasBikeParking": true, "hasRestrooms": true, "ticketMachines": 10
    },
    {
      "id": "22nd", "name": "22nd Street", "shortCode": "22ND",
      "gtfsStopIdSouth": "70022", "gtfsStopIdNorth": "70021",
      "latitude": 37.757583, "longitude": -122.392733, "zone": 1,
      "bikeRacks": 27, "hasBikeLockers": true
    }
  ]
}`

	dir, err := ParseStationDirectory(strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, "2026.02", dir.Version)
	assert.Equal(t, "2026-02-10T00:00:00Z", dir.LastUpdated)
	require.Equal(t, 2, len(dir.Stations))

	assert.Equal(t, model.Station{
		ID:            "sf",
		Name:          "San Francisco",
		ShortCode:     "SF",
		PlatformNorth: "70012",
		PlatformSouth: "70011",
		Coordinate:    model.Coordinate{Lat: 37.776439, Lon: -122.394434},
		Zone:          1,
		Address:       model.Address{Full: "700 4th Street", City: "San Francisco"},
		Amenities: model.Amenities{
			BikeParking:    true,
			Restrooms:      true,
			TicketMachines: 10,
		},
	}, dir.Stations[0])

	assert.Equal(t, "22nd", dir.Stations[1].ID)
	assert.Equal(t, 27, dir.Stations[1].Amenities.BikeRacks)
	assert.True(t, dir.Stations[1].Amenities.BikeLockers)
}

func TestParseStationDirectoryInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		data string
	}{
		{"malformed", `{"stations": [`},
		{"missing name", `{"stations": [{"id": "a", "gtfsStopIdNorth": "1", "gtfsStopIdSouth": "2"}]}`},
		{"same platform", `{"stations": [{"id": "a", "name": "A", "gtfsStopIdNorth": "1", "gtfsStopIdSouth": "1"}]}`},
		{"shared platform", `{"stations": [
			{"id": "a", "name": "A", "gtfsStopIdNorth": "1", "gtfsStopIdSouth": "2"},
			{"id": "b", "name": "B", "gtfsStopIdNorth": "2", "gtfsStopIdSouth": "3"}
		]}`},
		{"repeated id", `{"stations": [
			{"id": "a", "name": "A", "gtfsStopIdNorth": "1", "gtfsStopIdSouth": "2"},
			{"id": "a", "name": "B", "gtfsStopIdNorth": "3", "gtfsStopIdSouth": "4"}
		]}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseStationDirectory(strings.NewReader(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestParseStationsCSV(t *testing.T) {
	data := strings.Join([]string{
		"station_id,station_name,short_code,platform_north,platform_south,station_lat,station_lon,zone,parking,bike_racks",
		"sf,San Francisco,SF,70012,70011,37.776439,-122.394434,1,false,40",
		"mv,Mountain View,MV,70211,70212,37.394458,-122.076941,3,true,",
	}, "\n")

	// Leading BOM is tolerated
	buf := append([]byte{0xef, 0xbb, 0xbf}, []byte(data)...)

	stations, err := ParseStationsCSV(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, 2, len(stations))

	assert.Equal(t, "sf", stations[0].ID)
	assert.Equal(t, "70012", stations[0].PlatformNorth)
	assert.Equal(t, "70011", stations[0].PlatformSouth)
	assert.Equal(t, 40, stations[0].Amenities.BikeRacks)
	assert.Equal(t, 3, stations[1].Zone)
	assert.True(t, stations[1].Amenities.Parking)
	assert.Equal(t, model.Coordinate{Lat: 37.394458, Lon: -122.076941}, stations[1].Coordinate)
}

func TestParseStationsCSVInvalid(t *testing.T) {
	header := "station_id,station_name,platform_north,platform_south,station_lat,station_lon"

	// Missing coordinates
	_, err := ParseStationsCSV(strings.NewReader(header + "\nsf,San Francisco,70012,70011,,"))
	assert.Error(t, err)

	// Missing name
	_, err = ParseStationsCSV(strings.NewReader(header + "\nsf,,70012,70011,37.7,-122.3"))
	assert.Error(t, err)

	// Duplicate platform
	_, err = ParseStationsCSV(strings.NewReader(header + "\nsf,San Francisco,70012,70012,37.7,-122.3"))
	assert.Error(t, err)
}
