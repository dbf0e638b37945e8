package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tidbyt.dev/caltrain"
	"tidbyt.dev/caltrain/server"
)

type Config struct {
	Feed      FeedConfig    `mapstructure:"feed"`
	Stations  StaticConfig  `mapstructure:"stations"`
	Timetable StaticConfig  `mapstructure:"timetable"`
	Storage   StorageConfig `mapstructure:"storage"`
	Redis     RedisConfig   `mapstructure:"redis"`
	Refresh   RefreshConfig `mapstructure:"refresh"`
	Server    ServerConfig  `mapstructure:"server"`
	Log       LogConfig     `mapstructure:"log"`
	Timezone  string        `mapstructure:"timezone"`
}

type FeedConfig struct {
	URL     string        `mapstructure:"url"`
	Agency  string        `mapstructure:"agency"`
	Headers []string      `mapstructure:"headers"` // "Key: Value"
	Timeout time.Duration `mapstructure:"timeout"`
}

// Where to get the station directory or timetable from. File wins
// over URL when both are set.
type StaticConfig struct {
	URL  string `mapstructure:"url"`
	File string `mapstructure:"file"`
}

type StorageConfig struct {
	Backend  string `mapstructure:"backend"` // memory, sqlite, bolt or postgres
	Dir      string `mapstructure:"dir"`
	Postgres string `mapstructure:"postgres"`
}

// Optional. When Addr is set, departures and state are shared
// through Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RefreshConfig struct {
	MinInterval  time.Duration `mapstructure:"min_interval"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			URL:     caltrain.DefaultFeedURL,
			Agency:  caltrain.DefaultAgency,
			Timeout: caltrain.DefaultFeedTimeout,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Dir:     defaultDataPath(),
		},
		Refresh: RefreshConfig{
			MinInterval:  caltrain.DefaultMinRefreshInterval,
			PollInterval: server.DefaultPollInterval,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "INFO",
		},
		Timezone: caltrain.DefaultTimezone,
	}
}

func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "caltrain")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "caltrain")
}

// Loads configuration from file, CALTRAIN_ prefixed environment
// variables and whatever flags were bound to v. A missing config
// file is fine unless one was asked for explicitly.
func LoadConfig(v *viper.Viper, configFile string) (*Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("caltrain")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultConfigPath())
	}

	setDefaults(v, cfg)

	v.SetEnvPrefix("CALTRAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Registers every key, so that environment variables are seen even
// for keys missing from the config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("feed.url", cfg.Feed.URL)
	v.SetDefault("feed.agency", cfg.Feed.Agency)
	v.SetDefault("feed.timeout", cfg.Feed.Timeout)
	v.SetDefault("stations.url", cfg.Stations.URL)
	v.SetDefault("stations.file", cfg.Stations.File)
	v.SetDefault("timetable.url", cfg.Timetable.URL)
	v.SetDefault("timetable.file", cfg.Timetable.File)
	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.dir", cfg.Storage.Dir)
	v.SetDefault("storage.postgres", cfg.Storage.Postgres)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("refresh.min_interval", cfg.Refresh.MinInterval)
	v.SetDefault("refresh.poll_interval", cfg.Refresh.PollInterval)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("timezone", cfg.Timezone)
}

func (c *Config) Validate() error {
	if c.Refresh.PollInterval <= 0 {
		return fmt.Errorf("refresh.poll_interval must be positive, got %s", c.Refresh.PollInterval)
	}
	if c.Refresh.MinInterval < 0 {
		return fmt.Errorf("refresh.min_interval must not be negative, got %s", c.Refresh.MinInterval)
	}
	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout must be positive, got %s", c.Feed.Timeout)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}
	return nil
}

// Logs JSON to stderr, leaving stdout to command output.
func SetupLogger(cfg LogConfig) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Level),
	})
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}
