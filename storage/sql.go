package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tidbyt.dev/caltrain/model"
)

// Row encoding shared by the SQLite and Postgres backends. Times are
// stored as unix seconds, composite fields as JSON text.

const departureColumns = `id, station_id, direction, destination, short_destination, scheduled_time, estimated_time, train_number, train_type, status, platform, seq`

const stationColumns = `id, name, short_code, platform_north, platform_south, lat, lon, zone, address, amenities, favorite, selected`

const scheduleColumns = `platform_id, train_number, train_type, destination, departure_time, service`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func departureArgs(d model.LiveDeparture, seq int) []interface{} {
	var estimated sql.NullInt64
	if d.EstimatedTime != nil {
		estimated = sql.NullInt64{Int64: d.EstimatedTime.Unix(), Valid: true}
	}
	return []interface{}{
		d.ID,
		d.StationID,
		int(d.Direction),
		d.Destination,
		d.ShortDestination,
		d.ScheduledTime.Unix(),
		estimated,
		d.TrainNumber,
		int(d.TrainType),
		int(d.Status),
		d.Platform,
		seq,
	}
}

func scanDeparture(row rowScanner) (model.LiveDeparture, error) {
	var d model.LiveDeparture
	var direction, trainType, status, seq int
	var scheduled int64
	var estimated sql.NullInt64
	err := row.Scan(
		&d.ID,
		&d.StationID,
		&direction,
		&d.Destination,
		&d.ShortDestination,
		&scheduled,
		&estimated,
		&d.TrainNumber,
		&trainType,
		&status,
		&d.Platform,
		&seq,
	)
	if err != nil {
		return d, fmt.Errorf("scanning departure: %w", err)
	}

	d.Direction = model.Direction(direction)
	d.TrainType = model.TrainType(trainType)
	d.Status = model.Status(status)
	d.ScheduledTime = time.Unix(scheduled, 0).UTC()
	if estimated.Valid {
		t := time.Unix(estimated.Int64, 0).UTC()
		d.EstimatedTime = &t
	}
	return d, nil
}

func stationArgs(st model.Station) ([]interface{}, error) {
	address, err := json.Marshal(st.Address)
	if err != nil {
		return nil, fmt.Errorf("marshaling address: %w", err)
	}
	amenities, err := json.Marshal(st.Amenities)
	if err != nil {
		return nil, fmt.Errorf("marshaling amenities: %w", err)
	}
	return []interface{}{
		st.ID,
		st.Name,
		st.ShortCode,
		st.PlatformNorth,
		st.PlatformSouth,
		st.Coordinate.Lat,
		st.Coordinate.Lon,
		st.Zone,
		string(address),
		string(amenities),
		st.Favorite,
		st.Selected,
	}, nil
}

func scanStation(row rowScanner) (model.Station, error) {
	var st model.Station
	var address, amenities string
	err := row.Scan(
		&st.ID,
		&st.Name,
		&st.ShortCode,
		&st.PlatformNorth,
		&st.PlatformSouth,
		&st.Coordinate.Lat,
		&st.Coordinate.Lon,
		&st.Zone,
		&address,
		&amenities,
		&st.Favorite,
		&st.Selected,
	)
	if err != nil {
		return st, fmt.Errorf("scanning station: %w", err)
	}
	if err := json.Unmarshal([]byte(address), &st.Address); err != nil {
		return st, fmt.Errorf("unmarshaling address of '%s': %w", st.ID, err)
	}
	if err := json.Unmarshal([]byte(amenities), &st.Amenities); err != nil {
		return st, fmt.Errorf("unmarshaling amenities of '%s': %w", st.ID, err)
	}
	return st, nil
}

func scheduleArgs(d model.ScheduledDeparture) []interface{} {
	return []interface{}{
		d.PlatformID,
		d.TrainNumber,
		int(d.TrainType),
		d.Destination,
		d.DepartureTime,
		int(d.Service),
	}
}

func scanSchedule(row rowScanner) (model.ScheduledDeparture, error) {
	var d model.ScheduledDeparture
	var trainType, service int
	err := row.Scan(
		&d.PlatformID,
		&d.TrainNumber,
		&trainType,
		&d.Destination,
		&d.DepartureTime,
		&service,
	)
	if err != nil {
		return d, fmt.Errorf("scanning scheduled departure: %w", err)
	}
	d.TrainType = model.TrainType(trainType)
	d.Service = model.ServiceDays(service)
	return d, nil
}

func collectDepartures(rows *sql.Rows) ([]model.LiveDeparture, error) {
	defer rows.Close()
	departures := []model.LiveDeparture{}
	for rows.Next() {
		d, err := scanDeparture(rows)
		if err != nil {
			return nil, err
		}
		departures = append(departures, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating departures: %w", err)
	}
	return departures, nil
}

func collectStations(rows *sql.Rows) ([]model.Station, error) {
	defer rows.Close()
	stations := []model.Station{}
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stations: %w", err)
	}
	return stations, nil
}

func collectSchedule(rows *sql.Rows) ([]model.ScheduledDeparture, error) {
	defer rows.Close()
	departures := []model.ScheduledDeparture{}
	for rows.Next() {
		d, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		departures = append(departures, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedule: %w", err)
	}
	return departures, nil
}
