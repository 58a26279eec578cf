package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/homeassist")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TimeInterval)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.StateInterval)
	assert.Equal(t, 10*time.Minute, cfg.Conversation.Timeout)
	assert.Equal(t, "memory", cfg.Conversation.Backend)
	assert.Equal(t, 0, cfg.Scheduler.AutoDisableAfter)
	assert.False(t, cfg.MDNS.Enabled)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/ha.db")
	t.Setenv("SCHEDULER_TIME_INTERVAL", "5s")
	t.Setenv("SCHEDULER_TIMEZONE", "Europe/Berlin")
	t.Setenv("SCHEDULER_AUTO_DISABLE_AFTER", "3")
	t.Setenv("CONVERSATION_BACKEND", "redis")
	t.Setenv("MDNS_ENABLED", "true")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/ha.db", cfg.Store.SQLitePath)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.TimeInterval)
	assert.Equal(t, 3, cfg.Scheduler.AutoDisableAfter)
	assert.Equal(t, "redis", cfg.Conversation.Backend)
	assert.True(t, cfg.MDNS.Enabled)
	assert.Equal(t, 2.5, cfg.RateLimit.RPS)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "store:\n  driver: sqlite\n  sqlite_path: file.db\napp:\n  port: 9090\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("HTTP_PORT", "9191")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "file.db", cfg.Store.SQLitePath)
	assert.Equal(t, 9191, cfg.App.Port, "env wins over file")
}

func TestLoadConfigInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without url":  {"STORE_DRIVER": "postgres", "DB_URL": ""},
		"unknown driver":        {"STORE_DRIVER": "mysql"},
		"unknown backend":       {"STORE_DRIVER": "sqlite", "CONVERSATION_BACKEND": "disk"},
		"sub-second interval":   {"STORE_DRIVER": "sqlite", "SCHEDULER_TIME_INTERVAL": "500ms"},
		"minute time interval":  {"STORE_DRIVER": "sqlite", "SCHEDULER_TIME_INTERVAL": "1m"},
		"five minute interval":  {"STORE_DRIVER": "sqlite", "SCHEDULER_TIME_INTERVAL": "5m"},
		"bad timezone":          {"STORE_DRIVER": "sqlite", "SCHEDULER_TIMEZONE": "Mars/Olympus"},
		"negative auto disable": {"STORE_DRIVER": "sqlite", "SCHEDULER_AUTO_DISABLE_AFTER": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(t.TempDir())
			assert.Error(t, err)
		})
	}
}
