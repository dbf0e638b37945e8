package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "time/tzdata"

	"tidbyt.dev/caltrain"
	"tidbyt.dev/caltrain/downloader"
	"tidbyt.dev/caltrain/storage"
)

var rootCmd = &cobra.Command{
	Use:               "caltrain",
	Short:             "Caltrain departures",
	Long:              "Keeps a cache of Caltrain departures in sync with the 511 realtime feed",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configFile string
	v          = viper.New()
	cfg        *Config
	logger     *slog.Logger
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Config file (default ./caltrain.yaml or ~/.config/caltrain/caltrain.yaml)")
	flags.String("feed-url", caltrain.DefaultFeedURL, "Realtime trip updates URL")
	flags.String("agency", caltrain.DefaultAgency, "Agency code sent to the feed")
	flags.StringSlice("header", []string{}, "Feed HTTP header, on form <key>:<value>")
	flags.String("stations-url", "", "Station directory URL")
	flags.String("stations-file", "", "Station directory file (JSON or CSV)")
	flags.String("timetable-url", "", "Timetable URL")
	flags.String("timetable-file", "", "Timetable file (JSON or CSV)")
	flags.String("storage", "sqlite", "Storage backend: memory, sqlite, bolt or postgres")
	flags.String("data-dir", defaultDataPath(), "Directory for on-disk storage")
	flags.String("postgres", "", "Postgres connection string")
	flags.String("redis", "", "Redis address for sharing departures between processes")
	flags.String("log-level", "INFO", "Log level")

	for key, flag := range map[string]string{
		"feed.url":         "feed-url",
		"feed.agency":      "agency",
		"feed.headers":     "header",
		"stations.url":     "stations-url",
		"stations.file":    "stations-file",
		"timetable.url":    "timetable-url",
		"timetable.file":   "timetable-file",
		"storage.backend":  "storage",
		"storage.dir":      "data-dir",
		"storage.postgres": "postgres",
		"redis.addr":       "redis",
		"log.level":        "log-level",
	} {
		v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(departuresCmd)
	rootCmd.AddCommand(stationsCmd)
	rootCmd.AddCommand(nearestCmd)
	rootCmd.AddCommand(timelineCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = LoadConfig(v, configFile)
	if err != nil {
		return err
	}
	logger = SetupLogger(cfg.Log)
	return nil
}

func openStorage() (storage.Storage, error) {
	var base storage.Storage
	var err error

	switch strings.ToLower(cfg.Storage.Backend) {
	case "memory":
		base = storage.NewMemoryStorage()
	case "sqlite", "":
		err = os.MkdirAll(cfg.Storage.Dir, 0755)
		if err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		base, err = storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: cfg.Storage.Dir})
	case "bolt":
		err = os.MkdirAll(cfg.Storage.Dir, 0755)
		if err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		base, err = storage.NewBoltStorage(cfg.Storage.Dir)
	case "postgres":
		if cfg.Storage.Postgres == "" {
			return nil, fmt.Errorf("postgres connection string is required")
		}
		base, err = storage.NewPSQLStorage(cfg.Storage.Postgres, false)
	default:
		return nil, fmt.Errorf("unknown storage backend '%s'", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Backend, err)
	}

	if cfg.Redis.Addr == "" {
		return base, nil
	}

	shared, err := storage.NewRedisStorage(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		base.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return storage.WithShared(base, shared), nil
}

// Builds an engine from config. Static downloads are cached on disk
// when a data directory is available, so successive CLI runs don't
// fetch the directory and timetable again.
func LoadEngine(diskCache bool) (*caltrain.Engine, error) {
	s, err := openStorage()
	if err != nil {
		return nil, err
	}

	headers, err := parseHeaders(cfg.Feed.Headers)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid feed header: %w", err)
	}

	e := caltrain.NewEngine(s)
	e.FeedURL = cfg.Feed.URL
	e.Agency = cfg.Feed.Agency
	e.FeedHeaders = headers
	e.FeedTimeout = cfg.Feed.Timeout
	e.StationsURL = cfg.Stations.URL
	e.TimetableURL = cfg.Timetable.URL
	e.Timezone = caltrain.LoadTimezone(cfg.Timezone)
	e.Logger = logger
	e.Gate.MinInterval = cfg.Refresh.MinInterval

	if diskCache && cfg.Storage.Dir != "" {
		err = os.MkdirAll(cfg.Storage.Dir, 0755)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		fs, err := downloader.NewFilesystem(filepath.Join(cfg.Storage.Dir, "download-cache.json"))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating download cache: %w", err)
		}
		fs.Logger = logger
		e.Downloader = fs
	}

	return e, nil
}

// Loads the station directory and timetable when due, or when
// forced. Files are always loaded if configured and due.
func syncStatic(ctx context.Context, e *caltrain.Engine, force bool) error {
	dir, err := e.Directory()
	if err != nil {
		return err
	}
	empty := dir.Len() == 0

	due, err := e.Registry.NeedsSync(caltrain.SyncStations)
	if err != nil {
		return err
	}
	if force || due || empty {
		switch {
		case cfg.Stations.File != "":
			err = loadFile(cfg.Stations.File, func(f *os.File, format caltrain.DataFormat) error {
				_, err := e.LoadStations(f, format)
				return err
			})
		case cfg.Stations.URL != "":
			_, err = e.SyncStations(ctx, force || empty)
		case empty:
			err = fmt.Errorf("no stations loaded, and no stations URL or file configured")
		}
		if err != nil {
			return err
		}
	}

	due, err = e.Registry.NeedsSync(caltrain.SyncTimetable)
	if err != nil {
		return err
	}
	if force || due {
		switch {
		case cfg.Timetable.File != "":
			err = loadFile(cfg.Timetable.File, func(f *os.File, format caltrain.DataFormat) error {
				_, err := e.LoadTimetable(f, format)
				return err
			})
		case cfg.Timetable.URL != "":
			_, err = e.SyncTimetable(ctx, force)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func loadFile(path string, load func(*os.File, caltrain.DataFormat) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	return load(f, caltrain.FormatFromPath(path))
}
