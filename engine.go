package caltrain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spkg/bom"

	"tidbyt.dev/caltrain/downloader"
	"tidbyt.dev/caltrain/model"
	"tidbyt.dev/caltrain/parse"
	"tidbyt.dev/caltrain/storage"
)

const (
	DefaultFeedURL        = "https://api.511.org/transit/tripupdates"
	DefaultAgency         = "CT"
	DefaultFeedTimeout    = 30 * time.Second
	DefaultFeedMaxSize    = 1 << 20 // 1 MB
	DefaultStaticTimeout  = 60 * time.Second
	DefaultStaticMaxSize  = 16 << 20 // 16 MB
	DefaultStaticCacheTTL = 1 * time.Hour
	DefaultTimezone       = "America/Los_Angeles"

	stateDirectoryGeneration = "stations.generation"
)

// Keeps the departure cache in sync with the realtime feed, and
// answers departure and timeline queries on top of it.
type Engine struct {
	FeedURL       string
	Agency        string
	FeedHeaders   map[string]string
	FeedTimeout   time.Duration
	FeedMaxSize   int
	StationsURL   string
	TimetableURL  string
	StaticTimeout time.Duration
	StaticMaxSize int
	StaticTTL     time.Duration
	Timezone      *time.Location
	Line          model.Line
	Downloader    downloader.Downloader

	Gate      *RefreshGate
	Registry  *SyncRegistry
	Locations *LocationCache
	Location  LocationProvider

	Logger  *slog.Logger
	TimeNow func() time.Time

	storage storage.Storage

	dirMutex  sync.Mutex
	directory *Directory
	dirGen    string
}

// Creates a new Engine on top of the given storage.
//
// The refresh gate, sync registry and location cache all keep their
// state in storage. Engines in a process that share a Gate instance
// never fetch the feed concurrently.
func NewEngine(s storage.Storage) *Engine {
	return &Engine{
		FeedURL:       DefaultFeedURL,
		Agency:        DefaultAgency,
		FeedTimeout:   DefaultFeedTimeout,
		FeedMaxSize:   DefaultFeedMaxSize,
		StaticTimeout: DefaultStaticTimeout,
		StaticMaxSize: DefaultStaticMaxSize,
		StaticTTL:     DefaultStaticCacheTTL,
		Timezone:      LoadTimezone(DefaultTimezone),
		Line:          model.Caltrain,
		Downloader:    downloader.NewMemoryDownloader(),

		Gate:      NewRefreshGate(s),
		Registry:  NewSyncRegistry(s),
		Locations: NewLocationCache(s),

		Logger:  slog.New(slog.DiscardHandler),
		TimeNow: time.Now,

		storage: s,
	}
}

// Loads a timezone, falling back to UTC if it's not available.
func LoadTimezone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (e *Engine) Storage() storage.Storage {
	return e.storage
}

// The station directory, as currently stored.
//
// The parsed directory is kept until the stored generation changes.
// Every write to stations bumps it, so changes made by other engines
// or processes on the same storage are picked up on the next call.
func (e *Engine) Directory() (*Directory, error) {
	e.dirMutex.Lock()
	defer e.dirMutex.Unlock()

	gen, _, err := e.storage.GetState(stateDirectoryGeneration)
	if err != nil {
		return nil, fmt.Errorf("reading directory generation: %w", err)
	}

	if e.directory != nil && gen == e.dirGen {
		return e.directory, nil
	}

	stations, err := e.storage.Stations()
	if err != nil {
		return nil, fmt.Errorf("loading stations: %w", err)
	}

	dir, err := NewDirectory(stations)
	if err != nil {
		return nil, err
	}
	e.directory = dir
	e.dirGen = gen

	return dir, nil
}

// Marks the stored directory as changed, for this engine and any
// other sharing the storage.
func (e *Engine) invalidateDirectory() error {
	e.dirMutex.Lock()
	defer e.dirMutex.Unlock()

	e.directory = nil
	err := e.storage.PutState(stateDirectoryGeneration, uuid.NewString())
	if err != nil {
		return fmt.Errorf("bumping directory generation: %w", err)
	}
	return nil
}

// The feed URL with the agency and format query parameters set.
func (e *Engine) feedURL() (string, error) {
	u, err := url.Parse(e.FeedURL)
	if err != nil {
		return "", fmt.Errorf("parsing feed URL: %w", err)
	}

	q := u.Query()
	if e.Agency != "" && q.Get("agency") == "" {
		q.Set("agency", e.Agency)
	}
	if q.Get("format") == "" {
		q.Set("format", "json")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Fetches the realtime feed and replaces the departure cache with
// its contents, unless the gate says it's too soon.
//
// Fetch and decode failures are returned as *FetchError and
// *DecodeError. The cache and the gate are left untouched on any
// failure, so callers can keep serving what's cached.
func (e *Engine) Refresh(ctx context.Context, force bool) (RefreshOutcome, error) {
	release, ok := e.Gate.Begin(force)
	if !ok {
		return RefreshSkipped, nil
	}
	defer release()

	dir, err := e.Directory()
	if err != nil {
		return RefreshCompleted, err
	}
	if dir.Len() == 0 {
		return RefreshCompleted, ErrNoStation
	}

	feedURL, err := e.feedURL()
	if err != nil {
		return RefreshCompleted, err
	}

	start := e.TimeNow()
	body, err := e.Downloader.Get(ctx, feedURL, e.FeedHeaders, downloader.GetOptions{
		Timeout: e.FeedTimeout,
		MaxSize: e.FeedMaxSize,
	})
	if err != nil {
		e.Logger.Warn("feed fetch failed", "url", e.FeedURL, "error", err)
		return RefreshCompleted, newFetchError(e.FeedURL, err)
	}

	entities, err := parse.ParseTripUpdates(body)
	if err != nil {
		e.Logger.Warn("feed decode failed", "bytes", len(body), "error", err)
		return RefreshCompleted, &DecodeError{What: "trip updates", Err: err}
	}

	departures := TransformFeed(entities, dir, e.Line)

	err = e.storage.ReplaceDepartures(departures)
	if err != nil {
		return RefreshCompleted, fmt.Errorf("replacing departures: %w", err)
	}

	err = e.Gate.MarkRefreshed()
	if err != nil {
		return RefreshCompleted, fmt.Errorf("marking refresh: %w", err)
	}

	e.Logger.Info(
		"departures refreshed",
		"entities", len(entities),
		"departures", len(departures),
		"duration", e.TimeNow().Sub(start),
	)

	return RefreshCompleted, nil
}

// Merged upcoming departures for a station, as of asOf.
func (e *Engine) UpcomingDepartures(stationID string, asOf time.Time) ([]model.MergedDeparture, error) {
	dir, err := e.Directory()
	if err != nil {
		return nil, err
	}

	station, found := dir.Station(stationID)
	if !found {
		return nil, fmt.Errorf("%w: '%s'", ErrNoStation, stationID)
	}

	scheduled, err := e.storage.ScheduleForPlatforms(station.PlatformIDs()...)
	if err != nil {
		return nil, fmt.Errorf("loading schedule: %w", err)
	}

	live, err := e.storage.DeparturesForStation(station.ID)
	if err != nil {
		return nil, fmt.Errorf("loading departures: %w", err)
	}

	return MergeDepartures(station, scheduled, live, asOf, e.Timezone), nil
}

// Encoding of a station directory or timetable.
type DataFormat string

const (
	FormatAuto DataFormat = ""
	FormatJSON DataFormat = "json"
	FormatCSV  DataFormat = "csv"
)

// Format implied by a file name's extension.
func FormatFromPath(path string) DataFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".csv", ".txt":
		return FormatCSV
	}
	return FormatAuto
}

func detectFormat(buf []byte) DataFormat {
	trimmed := bytes.TrimSpace(bom.Clean(buf))
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatCSV
}

// Forced fetches bypass the download cache.
func (e *Engine) fetchStatic(ctx context.Context, rawURL string, force bool) ([]byte, error) {
	body, err := e.Downloader.Get(ctx, rawURL, nil, downloader.GetOptions{
		Timeout:    e.StaticTimeout,
		MaxSize:    e.StaticMaxSize,
		Cache:      true,
		CacheTTL:   e.StaticTTL,
		Revalidate: force,
	})
	if err != nil {
		return nil, newFetchError(rawURL, err)
	}
	return body, nil
}

// Downloads the station directory, if due or forced, and merges it
// into storage.
func (e *Engine) SyncStations(ctx context.Context, force bool) (model.StationSync, error) {
	if e.StationsURL == "" {
		return model.StationSync{}, fmt.Errorf("no stations URL configured")
	}

	if !force {
		due, err := e.Registry.NeedsSync(SyncStations)
		if err != nil {
			return model.StationSync{}, err
		}
		if !due {
			return model.StationSync{}, nil
		}
	}

	body, err := e.fetchStatic(ctx, e.StationsURL, force)
	if err != nil {
		return model.StationSync{}, err
	}

	return e.LoadStations(bytes.NewReader(body), FormatAuto)
}

// Merges a station directory into storage, keeping user preferences
// for stations already known.
func (e *Engine) LoadStations(r io.Reader, format DataFormat) (model.StationSync, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return model.StationSync{}, fmt.Errorf("reading stations: %w", err)
	}
	if format == FormatAuto {
		format = detectFormat(buf)
	}

	var stations []model.Station
	if format == FormatJSON {
		directory, err := parse.ParseStationDirectory(bytes.NewReader(buf))
		if err != nil {
			return model.StationSync{}, &DecodeError{What: "stations", Err: err}
		}
		stations = directory.Stations
		e.Logger.Debug("parsed station directory", "version", directory.Version, "last_updated", directory.LastUpdated)
	} else {
		stations, err = parse.ParseStationsCSV(bytes.NewReader(buf))
		if err != nil {
			return model.StationSync{}, &DecodeError{What: "stations", Err: err}
		}
	}

	existing, err := e.storage.Stations()
	if err != nil {
		return model.StationSync{}, fmt.Errorf("loading stations: %w", err)
	}

	plan := PlanStationSync(stationsByID(existing), stations)
	if !plan.Empty() {
		err = e.storage.ApplyStationSync(plan)
		if err != nil {
			return model.StationSync{}, fmt.Errorf("applying station sync: %w", err)
		}
		err = e.invalidateDirectory()
		if err != nil {
			return plan, err
		}
	}

	err = e.Registry.MarkSynced(SyncStations)
	if err != nil {
		return plan, err
	}

	e.Logger.Info(
		"stations synced",
		"updates", len(plan.Updates),
		"inserts", len(plan.Inserts),
		"deletions", len(plan.Deletions),
	)

	return plan, nil
}

// Downloads the timetable, if due or forced, and replaces the
// stored one. Returns the number of scheduled departures loaded.
func (e *Engine) SyncTimetable(ctx context.Context, force bool) (int, error) {
	if e.TimetableURL == "" {
		return 0, fmt.Errorf("no timetable URL configured")
	}

	if !force {
		due, err := e.Registry.NeedsSync(SyncTimetable)
		if err != nil {
			return 0, err
		}
		if !due {
			return 0, nil
		}
	}

	body, err := e.fetchStatic(ctx, e.TimetableURL, force)
	if err != nil {
		return 0, err
	}

	return e.LoadTimetable(bytes.NewReader(body), FormatAuto)
}

func (e *Engine) LoadTimetable(r io.Reader, format DataFormat) (int, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading timetable: %w", err)
	}
	if format == FormatAuto {
		format = detectFormat(buf)
	}

	var schedule []model.ScheduledDeparture
	if format == FormatJSON {
		schedule, err = parse.ParseTimetable(bytes.NewReader(buf))
	} else {
		schedule, err = parse.ParseTimetableCSV(bytes.NewReader(buf))
	}
	if err != nil {
		return 0, &DecodeError{What: "timetable", Err: err}
	}

	err = e.storage.ReplaceSchedule(schedule)
	if err != nil {
		return 0, fmt.Errorf("replacing schedule: %w", err)
	}

	err = e.Registry.MarkSynced(SyncTimetable)
	if err != nil {
		return len(schedule), err
	}

	e.Logger.Info("timetable synced", "departures", len(schedule))

	return len(schedule), nil
}

// Makes id the only selected station. An empty id clears the
// selection.
func (e *Engine) SelectStation(id string) error {
	stations, err := e.storage.Stations()
	if err != nil {
		return fmt.Errorf("loading stations: %w", err)
	}

	plan, err := SelectStation(stations, id)
	if err != nil {
		return err
	}

	return e.applyPreferences(plan)
}

func (e *Engine) SetFavorite(id string, favorite bool) error {
	stations, err := e.storage.Stations()
	if err != nil {
		return fmt.Errorf("loading stations: %w", err)
	}

	plan, err := SetFavorite(stations, id, favorite)
	if err != nil {
		return err
	}

	return e.applyPreferences(plan)
}

func (e *Engine) applyPreferences(plan model.StationSync) error {
	if plan.Empty() {
		return nil
	}
	err := e.storage.ApplyStationSync(plan)
	if err != nil {
		return fmt.Errorf("storing preferences: %w", err)
	}
	return e.invalidateDirectory()
}

type Health struct {
	Stations    int        `json:"stations"`
	LastRefresh *time.Time `json:"lastRefresh,omitempty"`

	// No successful refresh within StaleAfter.
	Stale bool `json:"stale"`
}

// Reports whether storage is reachable and how recent the cache
// is. Does not call upstream.
func (e *Engine) Healthcheck(staleAfter time.Duration) (Health, error) {
	dir, err := e.Directory()
	if err != nil {
		return Health{}, err
	}

	health := Health{Stations: dir.Len(), Stale: true}
	if last, found := e.Gate.LastRefresh(); found {
		health.LastRefresh = &last
		health.Stale = e.TimeNow().Sub(last) > staleAfter
	}

	return health, nil
}
