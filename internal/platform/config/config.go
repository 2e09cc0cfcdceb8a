// Package config assembles service configuration from an optional YAML file
// and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/matchday/livescore/internal/platform/env"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string   `yaml:"env"`
	LogLevel string   `yaml:"log_level"`
	HTTP     HTTP     `yaml:"http"`
	Database Database `yaml:"database"`
	NATS     NATS     `yaml:"nats"`
	Auth     Auth     `yaml:"auth"`
	Streamer Streamer `yaml:"streamer"`
}

type HTTP struct {
	APIAddr         string        `yaml:"api_addr"`
	StreamerAddr    string        `yaml:"streamer_addr"`
	SinkAddr        string        `yaml:"sink_addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Database struct {
	URL               string        `yaml:"url"`
	MinConns          int           `yaml:"min_conns"`
	MaxConns          int           `yaml:"max_conns"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period"`
	// Memory selects the in-process store instead of Postgres. Local runs only.
	Memory bool `yaml:"memory"`
}

type NATS struct {
	URL            string        `yaml:"url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type Auth struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type Streamer struct {
	SnapshotDebounce time.Duration `yaml:"snapshot_debounce"`
	SnapshotMaxWait  time.Duration `yaml:"snapshot_max_wait"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	PingInterval     time.Duration `yaml:"ping_interval"`
}

const insecureDevSecret = "dev-insecure-change-me"

func Default() Config {
	return Config{
		Env:      "development",
		LogLevel: "info",
		HTTP: HTTP{
			APIAddr:         env.DefaultAPIAddr,
			StreamerAddr:    env.DefaultStreamerAddr,
			SinkAddr:        env.DefaultSinkAddr,
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Database: Database{
			URL:               env.DefaultDatabaseURL,
			MinConns:          2,
			MaxConns:          20,
			MaxConnLifetime:   30 * time.Minute,
			MaxConnIdleTime:   5 * time.Minute,
			HealthCheckPeriod: 30 * time.Second,
		},
		NATS: NATS{
			URL:            env.DefaultNATSURL,
			ConnectTimeout: 30 * time.Second,
		},
		Auth: Auth{
			Secret:   insecureDevSecret,
			TokenTTL: 12 * time.Hour,
		},
		Streamer: Streamer{
			SnapshotDebounce: 75 * time.Millisecond,
			SnapshotMaxWait:  300 * time.Millisecond,
			SubscriberBuffer: 64,
			PingInterval:     30 * time.Second,
		},
	}
}

// Load reads .env (if present), then CONFIG_FILE (if set), then the
// environment, and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Env = env.String("APP_ENV", c.Env)
	c.LogLevel = env.String("LOG_LEVEL", c.LogLevel)

	c.HTTP.APIAddr = env.String("MATCH_API_ADDR", c.HTTP.APIAddr)
	c.HTTP.StreamerAddr = env.String("MATCH_STREAMER_ADDR", c.HTTP.StreamerAddr)
	c.HTTP.SinkAddr = env.String("TALLY_SINK_ADDR", c.HTTP.SinkAddr)
	if origin := env.String("CORS_ALLOWED_ORIGIN", ""); origin != "" {
		c.HTTP.AllowedOrigins = []string{origin}
	}
	c.HTTP.ShutdownTimeout = env.Duration("SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)

	c.Database.URL = env.String("DATABASE_URL", c.Database.URL)
	c.Database.MinConns = env.Int("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConns = env.Int("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MaxConnLifetime = env.Duration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = env.Duration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.HealthCheckPeriod = env.Duration("DB_HEALTH_CHECK_PERIOD", c.Database.HealthCheckPeriod)
	c.Database.Memory = env.Bool("STORE_IN_MEMORY", c.Database.Memory)

	c.NATS.URL = env.String("NATS_URL", c.NATS.URL)
	c.NATS.ConnectTimeout = env.Duration("NATS_CONNECT_TIMEOUT", c.NATS.ConnectTimeout)

	c.Auth.Secret = env.String("JWT_SECRET", c.Auth.Secret)
	c.Auth.TokenTTL = env.Duration("JWT_TTL", c.Auth.TokenTTL)

	c.Streamer.SnapshotDebounce = env.Duration("SNAPSHOT_DEBOUNCE", c.Streamer.SnapshotDebounce)
	c.Streamer.SnapshotMaxWait = env.Duration("SNAPSHOT_MAX_WAIT", c.Streamer.SnapshotMaxWait)
	c.Streamer.SubscriberBuffer = env.Int("SUBSCRIBER_BUFFER", c.Streamer.SubscriberBuffer)
	c.Streamer.PingInterval = env.Duration("WS_PING_INTERVAL", c.Streamer.PingInterval)
}

func (c Config) Production() bool {
	return c.Env == "production"
}

func (c Config) Validate() error {
	var errs []error
	if c.Production() && (c.Auth.Secret == "" || c.Auth.Secret == insecureDevSecret) {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, errors.New("database max_conns must be positive"))
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, errors.New("database min_conns must be between 0 and max_conns"))
	}
	if c.Streamer.SubscriberBuffer <= 0 {
		errs = append(errs, errors.New("streamer subscriber_buffer must be positive"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth token_ttl must be positive"))
	}
	return errors.Join(errs...)
}
