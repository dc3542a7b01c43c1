// Package config defines the top-level configuration for the trade-idea
// service and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/tradeideas/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEIDEAS_* environment variables.
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Oracle   OracleConfig   `toml:"oracle"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis backs the price
// cache, distributed locks, rate limiting and the event bus; all of them
// are skipped when disabled.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the ledger
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig selects and tunes the price oracle.
type OracleConfig struct {
	// Kind is "http" or "static".
	Kind         string   `toml:"kind"`
	URLTemplate  string   `toml:"url_template"`
	PricePath    string   `toml:"price_path"`
	APIKey       string   `toml:"api_key"`
	APIKeyHeader string   `toml:"api_key_header"`
	Timeout      duration `toml:"timeout"`
	// CacheTTL bounds how old a cached quote may be; zero disables caching.
	CacheTTL   duration          `toml:"cache_ttl"`
	RateLimit  int               `toml:"rate_limit"`
	RateWindow duration          `toml:"rate_window"`
	Static     map[string]string `toml:"static"`
}

// LedgerConfig tunes the lifecycle services.
type LedgerConfig struct {
	PriceConcurrency int `toml:"price_concurrency"`
}

// ArchiveConfig schedules the closed-position archive. It needs S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// APIKeyHash is a bcrypt hash of the API key; it wins over APIKey.
	APIKeyHash string   `toml:"api_key_hash"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Store: StoreConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradeideas",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradeideas-archive",
			ForcePathStyle: true,
		},
		Oracle: OracleConfig{
			Kind:         "http",
			PricePath:    "$.price",
			APIKeyHeader: "X-API-Key",
			Timeout:      duration{10 * time.Second},
			CacheTTL:     duration{30 * time.Second},
			RateWindow:   duration{time.Minute},
		},
		Ledger: LedgerConfig{PriceConcurrency: 8},
		Archive: ArchiveConfig{
			Cron:          "0 3 * * *",
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"position_sold", "idea_executed"},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	switch c.Oracle.Kind {
	case "http":
		if !strings.Contains(c.Oracle.URLTemplate, "{ticker}") {
			errs = append(errs, "oracle: url_template must contain {ticker}")
		} else if _, err := url.Parse(strings.ReplaceAll(c.Oracle.URLTemplate, "{ticker}", "X")); err != nil {
			errs = append(errs, fmt.Sprintf("oracle: url_template: %v", err))
		}
		if !strings.HasPrefix(c.Oracle.PricePath, "$") {
			errs = append(errs, "oracle: price_path must be a JSONPath starting with $")
		}
		if c.Oracle.Timeout.Duration <= 0 {
			errs = append(errs, "oracle: timeout must be > 0")
		}
	case "static":
		if len(c.Oracle.Static) == 0 {
			errs = append(errs, "oracle: static kind needs at least one [oracle.static] price")
		}
	default:
		errs = append(errs, fmt.Sprintf("oracle: unknown kind %q (valid: http, static)", c.Oracle.Kind))
	}
	if c.Oracle.CacheTTL.Duration < 0 {
		errs = append(errs, "oracle: cache_ttl must be >= 0")
	}
	if c.Oracle.RateLimit < 0 {
		errs = append(errs, "oracle: rate_limit must be >= 0")
	}
	if c.Oracle.RateLimit > 0 && c.Oracle.RateWindow.Duration <= 0 {
		errs = append(errs, "oracle: rate_window must be > 0 when rate_limit is set")
	}

	if c.Ledger.PriceConcurrency < 1 {
		errs = append(errs, "ledger: price_concurrency must be >= 1")
	}

	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must be >= 0")
		}
		if c.Archive.Cron != "" {
			if err := pipeline.ValidateCron(c.Archive.Cron); err != nil {
				errs = append(errs, "archive: "+err.Error())
			}
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.APIKeyHash != "" && !strings.HasPrefix(c.Server.APIKeyHash, "$2") {
		errs = append(errs, "server: api_key_hash must be a bcrypt hash")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
