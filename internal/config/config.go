package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Prefix is prepended to every environment key, e.g. FIELDTRACK_HTTP_ADDR.
const Prefix = "FIELDTRACK"

// Store names accepted by CHECKIN_STORE and PROSPECT_STORE.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreLegacy   = "legacy"
)

// Config holds runtime settings for the server and the watcher.
type Config struct {
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// Embedded single-writer store. Images and commissions always live here.
	SQLitePath          string `envconfig:"SQLITE_PATH" default:"fieldtrack.db"`
	SQLiteBusyTimeoutMS int    `envconfig:"SQLITE_BUSY_TIMEOUT_MS" default:"1000"`

	PostgresDSN             string        `envconfig:"POSTGRES_DSN"`
	PostgresConnectAttempts int           `envconfig:"POSTGRES_CONNECT_ATTEMPTS" default:"5"`
	PostgresConnectDelay    time.Duration `envconfig:"POSTGRES_CONNECT_DELAY" default:"2s"`

	LegacyDriver string `envconfig:"LEGACY_DRIVER" default:"postgres"`
	LegacyDSN    string `envconfig:"LEGACY_DSN"`

	CheckinStore  string `envconfig:"CHECKIN_STORE" default:"sqlite"`
	ProspectStore string `envconfig:"PROSPECT_STORE" default:"sqlite"`

	RetryAttempts int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryStep     time.Duration `envconfig:"RETRY_STEP" default:"100ms"`

	DefaultPageSize int `envconfig:"DEFAULT_PAGE_SIZE" default:"20"`
	MaxPageSize     int `envconfig:"MAX_PAGE_SIZE" default:"100"`
	MapMaxRows      int `envconfig:"MAP_MAX_ROWS" default:"5000"`

	// Fallback map centre when a query matches nothing.
	HomeLat float64 `envconfig:"HOME_LAT" default:"-23.5505"`
	HomeLng float64 `envconfig:"HOME_LNG" default:"-46.6333"`

	ImageDir string `envconfig:"IMAGE_DIR" default:"uploads"`

	WatchServer   string        `envconfig:"WATCH_SERVER" default:"http://localhost:8080"`
	WatchAgents   []string      `envconfig:"WATCH_AGENTS"`
	WatchInterval time.Duration `envconfig:"WATCH_INTERVAL" default:"30s"`
}

// New loads an optional .env file, parses the environment and validates
// the result.
func New(log zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("http_addr", cfg.HTTPAddr).
		Str("sqlite_path", cfg.SQLitePath).
		Str("checkin_store", cfg.CheckinStore).
		Str("prospect_store", cfg.ProspectStore).
		Bool("postgres_dsn_present", cfg.PostgresDSN != "").
		Bool("legacy_dsn_present", cfg.LegacyDSN != "").
		Str("legacy_driver", cfg.LegacyDriver).
		Int("retry_attempts", cfg.RetryAttempts).
		Dur("retry_step", cfg.RetryStep).
		Msg("configuration loaded")

	return &cfg, nil
}

// ResolveDefaults validates store selections and clamps numeric settings.
func (c *Config) ResolveDefaults() error {
	for name, sel := range map[string]string{"CHECKIN_STORE": c.CheckinStore, "PROSPECT_STORE": c.ProspectStore} {
		switch sel {
		case StoreSQLite:
		case StorePostgres:
			if c.PostgresDSN == "" {
				return fmt.Errorf("%s=%s requires POSTGRES_DSN", name, sel)
			}
		case StoreLegacy:
			if c.LegacyDSN == "" {
				return fmt.Errorf("%s=%s requires LEGACY_DSN", name, sel)
			}
			if c.LegacyDriver == "" {
				return fmt.Errorf("%s=%s requires LEGACY_DRIVER", name, sel)
			}
		default:
			return fmt.Errorf("unsupported %s: %q", name, sel)
		}
	}

	if c.RetryAttempts < 1 {
		c.RetryAttempts = 1
	}
	if c.RetryStep < 0 {
		c.RetryStep = 0
	}
	if c.MaxPageSize < 1 {
		c.MaxPageSize = 100
	}
	if c.DefaultPageSize < 1 || c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = c.MaxPageSize
	}
	if c.MapMaxRows < 1 {
		c.MapMaxRows = 5000
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = 30 * time.Second
	}
	return nil
}

// Uses reports whether any repository reads from the named store.
func (c *Config) Uses(store string) bool {
	return c.CheckinStore == store || c.ProspectStore == store
}

// NewForTesting returns defaults matching the struct tags, backed by the
// provided SQLite file.
func NewForTesting(sqlitePath string) *Config {
	return &Config{
		HTTPAddr:                ":0",
		LogFormat:               "console",
		LogLevel:                "debug",
		SQLitePath:              sqlitePath,
		SQLiteBusyTimeoutMS:     0,
		PostgresConnectAttempts: 1,
		LegacyDriver:            "sqlite",
		CheckinStore:            StoreSQLite,
		ProspectStore:           StoreSQLite,
		RetryAttempts:           3,
		RetryStep:               time.Millisecond,
		DefaultPageSize:         20,
		MaxPageSize:             100,
		MapMaxRows:              5000,
		HomeLat:                 -23.5505,
		HomeLng:                 -46.6333,
		ImageDir:                "uploads",
		WatchInterval:           30 * time.Second,
	}
}
