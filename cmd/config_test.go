package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/caltrain"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, caltrain.DefaultFeedURL, cfg.Feed.URL)
	assert.Equal(t, "CT", cfg.Feed.Agency)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, caltrain.DefaultMinRefreshInterval, cfg.Refresh.MinInterval)
	assert.Equal(t, "America/Los_Angeles", cfg.Timezone)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caltrain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
feed:
  url: http://localhost:9000/tripupdates
  headers:
    - "X-Api-Key: secret"
storage:
  backend: bolt
  dir: /var/lib/caltrain
refresh:
  min_interval: 2m
log:
  level: debug
`), 0644))

	t.Setenv("CALTRAIN_STORAGE_BACKEND", "memory")

	cfg, err := LoadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000/tripupdates", cfg.Feed.URL)
	assert.Equal(t, []string{"X-Api-Key: secret"}, cfg.Feed.Headers)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/caltrain", cfg.Storage.Dir)
	assert.Equal(t, 2*time.Minute, cfg.Refresh.MinInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigRejectsBadIntervals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caltrain.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refresh:\n  min_interval: 20s\n"), 0644))

	t.Setenv("CALTRAIN_REFRESH_POLL_INTERVAL", "0s")
	_, err := LoadConfig(viper.New(), path)
	assert.ErrorContains(t, err, "poll_interval")

	t.Setenv("CALTRAIN_REFRESH_POLL_INTERVAL", "-1m")
	_, err = LoadConfig(viper.New(), path)
	assert.Error(t, err)

	t.Setenv("CALTRAIN_REFRESH_POLL_INTERVAL", "30s")
	cfg, err := LoadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Refresh.PollInterval)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("chatty"))
}

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"X-Api-Key: secret", "Accept:application/json"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"X-Api-Key": "secret",
		"Accept":    "application/json",
	}, headers)

	_, err = parseHeaders([]string{"no colon"})
	assert.Error(t, err)
}
