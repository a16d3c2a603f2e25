package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Simulation SimulationConfig `yaml:"simulation"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Webhooks   WebhooksConfig   `yaml:"webhooks"`
	Log        LogConfig        `yaml:"log"`
	// Zones is the gazetteer used to derive a request's zone from its origin.
	Zones []string `yaml:"zones"`
}

type HTTPConfig struct {
	Port              string        `yaml:"port"`
	RateRPS           float64       `yaml:"rate_rps"`
	RateBurst         int           `yaml:"rate_burst"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the store backend: "memory", "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL     string        `yaml:"url"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type SimulationConfig struct {
	Interval time.Duration `yaml:"interval"`
	// TickTimeout bounds one tick's store work; zero means Interval.
	TickTimeout     time.Duration `yaml:"tick_timeout"`
	ServiceStepDeg  float64       `yaml:"service_step_deg"`
	IdleStepDeg     float64       `yaml:"idle_step_deg"`
	ServiceMaxSpeed float64       `yaml:"service_max_speed"`
	IdleMaxSpeed    float64       `yaml:"idle_max_speed"`
	// Seed fixes the random source; zero seeds from the clock.
	Seed int64 `yaml:"seed"`
}

type AlertsConfig struct {
	StoppedProbability float64 `yaml:"stopped_probability"`
	DetourProbability  float64 `yaml:"detour_probability"`
	StoppedSpeedKmh    float64 `yaml:"stopped_speed_kmh"`
}

type DispatchConfig struct {
	OpTimeout time.Duration `yaml:"op_timeout"`
	LockWait  time.Duration `yaml:"lock_wait"`
}

type WebhooksConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultZones is the five-name gazetteer used when none is configured.
var DefaultZones = []string{"Logroño", "Calahorra", "Haro", "Arnedo", "Nájera"}

func Defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:              "8080",
			RateRPS:           20,
			RateBurst:         40,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "memory",
			SQLite: SQLiteConfig{Path: "ambudispatch.db"},
		},
		Redis: RedisConfig{LockTTL: 10 * time.Second},
		Simulation: SimulationConfig{
			Interval:        5 * time.Second,
			ServiceStepDeg:  0.002,
			IdleStepDeg:     0.0005,
			ServiceMaxSpeed: 80,
			IdleMaxSpeed:    15,
		},
		Alerts: AlertsConfig{
			StoppedProbability: 0.1,
			DetourProbability:  0.02,
			StoppedSpeedKmh:    5,
		},
		Dispatch: DispatchConfig{
			OpTimeout: 5 * time.Second,
			LockWait:  3 * time.Second,
		},
		Webhooks: WebhooksConfig{
			MaxAttempts:  10,
			PollInterval: time.Second,
		},
		Log:   LogConfig{Level: "info", Format: "text"},
		Zones: append([]string(nil), DefaultZones...),
	}
}

// Load reads path over the defaults. A missing file is not an error.
// Environment overrides are applied afterwards.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if len(cfg.Zones) == 0 {
		cfg.Zones = append([]string(nil), DefaultZones...)
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		c.HTTP.Port = v
	}
	if v := getenv("DATABASE_URL"); strings.TrimSpace(v) != "" {
		c.Database.Driver = "postgres"
		c.Database.Postgres.DSN = v
	}
	if v := getenv("DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLite.Path = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := getenv("SIM_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SIM_INTERVAL: %w", err)
		}
		c.Simulation.Interval = d
	}
	if v := getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_RPS: %w", err)
		}
		c.HTTP.RateRPS = f
	}
	if v := getenv("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_BURST: %w", err)
		}
		c.HTTP.RateBurst = n
	}
	if v := getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Webhooks.MaxAttempts = n
		}
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string { return ":" + c.HTTP.Port }
