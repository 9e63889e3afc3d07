package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "./data/billing.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
	assert.Equal(t, Default(), *cfg)
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: a config file and an env override for one of its keys
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "billing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: 9000
database:
  path: /var/lib/billing.db
scheduler:
  interval: 30m
  concurrency: 2
`), 0o600))
	t.Setenv("HOSTEL_HTTP_PORT", "9100")
	t.Setenv("HOSTEL_LOG_LEVEL", "debug")

	// WHEN
	cfg, err := Load(path)

	// THEN: env wins over file, file wins over defaults
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/lib/billing.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 2, cfg.Scheduler.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ShutdownTimeout)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOSTEL_LOG_LEVEL", "loud")

	_, err := Load("")
	assert.ErrorContains(t, err, "invalid config")
}
