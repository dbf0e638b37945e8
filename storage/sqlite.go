package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"tidbyt.dev/caltrain/model"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

type SQLiteStorage struct {
	SQLiteConfig

	db *sql.DB
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		sourceName = filepath.Join(directory, "caltrain.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: gets its own database
	if !onDisk {
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS departure (
    id TEXT NOT NULL,
    station_id TEXT NOT NULL CHECK (station_id <> ''),
    direction INTEGER NOT NULL,
    destination TEXT NOT NULL,
    short_destination TEXT NOT NULL,
    scheduled_time INTEGER NOT NULL,
    estimated_time INTEGER,
    train_number TEXT NOT NULL,
    train_type INTEGER NOT NULL,
    status INTEGER NOT NULL,
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
    lat REAL NOT NULL,
    lon REAL NOT NULL,
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
    train_type INTEGER NOT NULL,
    destination TEXT NOT NULL,
    departure_time TEXT NOT NULL,
    service INTEGER NOT NULL
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

	return &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{
			OnDisk:    onDisk,
			Directory: directory,
		},
		db: db,
	}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) ReplaceDepartures(departures []model.LiveDeparture) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`DELETE FROM departure`)
	if err != nil {
		return fmt.Errorf("deleting departures: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO departure (` + departureColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for i, d := range departures {
		_, err = stmt.Exec(departureArgs(d, i)...)
		if err != nil {
			return fmt.Errorf("inserting departure '%s': %w", d.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) DeparturesForStation(stationID string) ([]model.LiveDeparture, error) {
	rows, err := s.db.Query(`
SELECT `+departureColumns+`
FROM departure
WHERE station_id = ?
ORDER BY scheduled_time ASC, seq ASC`, stationID)
	if err != nil {
		return nil, fmt.Errorf("querying departures: %w", err)
	}
	return collectDepartures(rows)
}

func (s *SQLiteStorage) Stations() ([]model.Station, error) {
	rows, err := s.db.Query(`SELECT ` + stationColumns + ` FROM station ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying stations: %w", err)
	}
	return collectStations(rows)
}

func (s *SQLiteStorage) ApplyStationSync(sync model.StationSync) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range sync.Deletions {
		_, err = tx.Exec(`DELETE FROM station WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting station '%s': %w", id, err)
		}
	}

	for _, st := range sync.Updates {
		args, err := stationArgs(st)
		if err != nil {
			return err
		}
		res, err := tx.Exec(`
UPDATE station SET
    name = ?2,
    short_code = ?3,
    platform_north = ?4,
    platform_south = ?5,
    lat = ?6,
    lon = ?7,
    zone = ?8,
    address = ?9,
    amenities = ?10,
    favorite = ?11,
    selected = ?12
WHERE id = ?1`, args...)
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
		_, err = tx.Exec(`INSERT INTO station (`+stationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
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

func (s *SQLiteStorage) ReplaceSchedule(departures []model.ScheduledDeparture) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`DELETE FROM schedule`)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO schedule (` + scheduleColumns + `) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range departures {
		_, err = stmt.Exec(scheduleArgs(d)...)
		if err != nil {
			return fmt.Errorf("inserting scheduled departure: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) ScheduleForPlatforms(platformIDs ...string) ([]model.ScheduledDeparture, error) {
	if len(platformIDs) == 0 {
		return []model.ScheduledDeparture{}, nil
	}

	params := make([]interface{}, 0, len(platformIDs))
	for _, id := range platformIDs {
		params = append(params, id)
	}

	rows, err := s.db.Query(`
SELECT `+scheduleColumns+`
FROM schedule
WHERE platform_id IN (?`+strings.Repeat(", ?", len(platformIDs)-1)+`)`, params...)
	if err != nil {
		return nil, fmt.Errorf("querying schedule: %w", err)
	}
	return collectSchedule(rows)
}

func (s *SQLiteStorage) GetState(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading state '%s': %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStorage) PutState(key string, value string) error {
	_, err := s.db.Exec(`
INSERT INTO state (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing state '%s': %w", key, err)
	}
	return nil
}
