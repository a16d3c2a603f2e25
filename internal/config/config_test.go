package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Simulation.Interval)
	assert.Equal(t, DefaultZones, cfg.Zones)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	data := []byte(`
http:
  port: "9090"
database:
  driver: sqlite
  sqlite:
    path: /tmp/x.db
simulation:
  interval: 2s
alerts:
  detour_probability: 0.5
zones: [Haro, Arnedo]
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.Database.SQLite.Path)
	assert.Equal(t, 2*time.Second, cfg.Simulation.Interval)
	assert.Equal(t, 0.5, cfg.Alerts.DetourProbability)
	assert.Equal(t, 0.1, cfg.Alerts.StoppedProbability)
	assert.Equal(t, []string{"Haro", "Arnedo"}, cfg.Zones)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":         "7000",
		"DATABASE_URL": "postgres://u:p@localhost/db",
		"REDIS_URL":    "redis://localhost:6379/0",
		"SIM_INTERVAL": "750ms",
		"RATE_BURST":   "3",
	}
	cfg := Defaults()
	require.NoError(t, cfg.applyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, ":7000", cfg.Addr())
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, env["DATABASE_URL"], cfg.Database.Postgres.DSN)
	assert.Equal(t, env["REDIS_URL"], cfg.Redis.URL)
	assert.Equal(t, 750*time.Millisecond, cfg.Simulation.Interval)
	assert.Equal(t, 3, cfg.HTTP.RateBurst)
}

func TestApplyEnvRejectsBadDuration(t *testing.T) {
	cfg := Defaults()
	err := cfg.applyEnv(func(k string) string {
		if k == "SIM_INTERVAL" {
			return "soon"
		}
		return ""
	})
	assert.Error(t, err)
}
