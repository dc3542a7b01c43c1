package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) over the
// built-in defaults, then applies TRADEIDEAS_* environment overrides. A
// .env file in the working directory is loaded first if present. The result
// is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from TRADEIDEAS_* environment
// variables that are set and non-empty, so secrets can be injected at
// deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Store.Driver, "TRADEIDEAS_STORE_DRIVER")

	setStr(&cfg.Postgres.DSN, "TRADEIDEAS_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "TRADEIDEAS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEIDEAS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEIDEAS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEIDEAS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEIDEAS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEIDEAS_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEIDEAS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEIDEAS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEIDEAS_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "TRADEIDEAS_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADEIDEAS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEIDEAS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEIDEAS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEIDEAS_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "TRADEIDEAS_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "TRADEIDEAS_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADEIDEAS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEIDEAS_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEIDEAS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEIDEAS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEIDEAS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEIDEAS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEIDEAS_S3_FORCE_PATH_STYLE")

	setStr(&cfg.Oracle.Kind, "TRADEIDEAS_ORACLE_KIND")
	setStr(&cfg.Oracle.URLTemplate, "TRADEIDEAS_ORACLE_URL_TEMPLATE")
	setStr(&cfg.Oracle.PricePath, "TRADEIDEAS_ORACLE_PRICE_PATH")
	setStr(&cfg.Oracle.APIKey, "TRADEIDEAS_ORACLE_API_KEY")
	setDuration(&cfg.Oracle.Timeout, "TRADEIDEAS_ORACLE_TIMEOUT")
	setDuration(&cfg.Oracle.CacheTTL, "TRADEIDEAS_ORACLE_CACHE_TTL")
	setInt(&cfg.Oracle.RateLimit, "TRADEIDEAS_ORACLE_RATE_LIMIT")

	setInt(&cfg.Ledger.PriceConcurrency, "TRADEIDEAS_LEDGER_PRICE_CONCURRENCY")

	setBool(&cfg.Archive.Enabled, "TRADEIDEAS_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "TRADEIDEAS_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "TRADEIDEAS_ARCHIVE_RETENTION_DAYS")

	setInt(&cfg.Server.Port, "TRADEIDEAS_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEIDEAS_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADEIDEAS_SERVER_API_KEY")
	setStr(&cfg.Server.APIKeyHash, "TRADEIDEAS_SERVER_API_KEY_HASH")
	setInt(&cfg.Server.RateLimit, "TRADEIDEAS_SERVER_RATE_LIMIT")

	setStr(&cfg.Notify.TelegramToken, "TRADEIDEAS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEIDEAS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEIDEAS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEIDEAS_NOTIFY_EVENTS")

	setStr(&cfg.LogLevel, "TRADEIDEAS_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
