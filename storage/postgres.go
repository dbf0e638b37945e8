package storage

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"tidbyt.dev/caltrain/model"
)

type PSQLStorage struct {
	db *sql.DB
}

// Creates a new Postgres Storage using the provided connection string.
//
// If clearDB is true, the database will be cleared on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`
DROP TABLE IF EXISTS departure;
DROP TABLE IF EXISTS station;
DROP TABLE IF EXISTS schedule;
DROP TABLE IF EXISTS state;
`)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS departure (
    id TEXT NOT NULL,
    station_id TEXT NOT NULL CHECK (station_id <> ''),
    direction SMALLINT NOT NULL,
    destination TEXT NOT NULL,
    short_destination TEXT NOT NULL,
    scheduled_time BIGINT NOT NULL,
    estimated_time BIGINT,
    train_number TEXT NOT NULL,
    train_type SMALLINT NOT NULL,
    status SMALLINT NOT NULL,
    platform TEXT NOT NULL,
    seq INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS departure_station ON departure (station_id, scheduled_time, seq);

CREATE TABLE IF NOT EXISTS station (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    short_code TEXT NOT NULL,
    platform_north TEXT NOT NULL,
    platform_south TEXT NOT NULL,
    lat DOUBLE PRECISION NOT NULL,
    lon DOUBLE PRECISION NOT NULL,
    zone INTEGER NOT NULL,
    address TEXT NOT NULL,
    amenities TEXT NOT NULL,
    favorite BOOLEAN NOT NULL,
    selected BOOLEAN NOT NULL,
    PRIMARY KEY (id)
);

CREATE TABLE IF NOT EXISTS schedule (
    platform_id TEXT NOT NULL,
    train_number TEXT NOT NULL,
    train_type SMALLINT NOT NULL,
    destination TEXT NOT NULL,
    departure_time TEXT NOT NULL,
    service SMALLINT NOT NULL
);

CREATE INDEX IF NOT EXISTS schedule_platform ON schedule (platform_id);

CREATE TABLE IF NOT EXISTS state (
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (key)
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &PSQLStorage{
		db: db,
	}, nil
}

func (s *PSQLStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

func (s *PSQLStorage) ReplaceDepartures(departures []model.LiveDeparture) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// Readers keep seeing the old rows until commit
	_, err = tx.Exec(`DELETE FROM departure`)
	if err != nil {
		return fmt.Errorf("deleting departures: %w", err)
	}

	stmt, err := tx.Prepare(pq.CopyIn(
		"departure",
		"id", "station_id", "direction", "destination", "short_destination", "scheduled_time",
		"estimated_time", "train_number", "train_type", "status", "platform", "seq",
	))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for i, d := range departures {
		_, err = stmt.Exec(departureArgs(d, i)...)
		if err != nil {
			return fmt.Errorf("COPY departure: %w", err)
		}
	}

	_, err = stmt.Exec()
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

func (s *PSQLStorage) DeparturesForStation(stationID string) ([]model.LiveDeparture, error) {
	rows, err := s.db.Query(`
SELECT `+departureColumns+`
FROM departure
WHERE station_id = $1
ORDER BY scheduled_time ASC, seq ASC`, stationID)
	if err != nil {
		return nil, fmt.Errorf("querying departures: %w", err)
	}
	return collectDepartures(rows)
}

func (s *PSQLStorage) Stations() ([]model.Station, error) {
	rows, err := s.db.Query(`SELECT ` + stationColumns + ` FROM station ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying stations: %w", err)
	}
	return collectStations(rows)
}

func (s *PSQLStorage) ApplyStationSync(sync model.StationSync) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if len(sync.Deletions) > 0 {
		_, err = tx.Exec(`DELETE FROM station WHERE id = ANY($1)`, pq.Array(sync.Deletions))
		if err != nil {
			return fmt.Errorf("deleting stations: %w", err)
		}
	}

	for _, st := range sync.Updates {
		args, err := stationArgs(st)
		if err != nil {
			return err
		}
		res, err := tx.Exec(`
UPDATE station SET
    name = $2,
    short_code = $3,
    platform_north = $4,
    platform_south = $5,
    lat = $6,
    lon = $7,
    zone = $8,
    address = $9,
    amenities = $10,
    favorite = $11,
    selected = $12
WHERE id = $1`, args...)
		if err != nil {
			return fmt.Errorf("updating station '%s': %w", st.ID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("updating unknown station '%s'", st.ID)
		}
	}

	for _, st := range sync.Inserts {
		args, err := stationArgs(st)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
INSERT INTO station (`+stationColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, args...)
		if err != nil {
			return fmt.Errorf("inserting station '%s': %w", st.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

func (s *PSQLStorage) ReplaceSchedule(departures []model.ScheduledDeparture) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`DELETE FROM schedule`)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}

	stmt, err := tx.Prepare(pq.CopyIn(
		"schedule", "platform_id", "train_number", "train_type", "destination", "departure_time", "service",
	))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range departures {
		_, err = stmt.Exec(scheduleArgs(d)...)
		if err != nil {
			return fmt.Errorf("COPY schedule: %w", err)
		}
	}

	_, err = stmt.Exec()
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

func (s *PSQLStorage) ScheduleForPlatforms(platformIDs ...string) ([]model.ScheduledDeparture, error) {
	rows, err := s.db.Query(`
SELECT `+scheduleColumns+`
FROM schedule
WHERE platform_id = ANY($1)`, pq.Array(platformIDs))
	if err != nil {
		return nil, fmt.Errorf("querying schedule: %w", err)
	}
	return collectSchedule(rows)
}

func (s *PSQLStorage) GetState(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading state '%s': %w", key, err)
	}
	return value, true, nil
}

func (s *PSQLStorage) PutState(key string, value string) error {
	_, err := s.db.Exec(`
INSERT INTO state (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing state '%s': %w", key, err)
	}
	return nil
}
