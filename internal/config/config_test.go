package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Oracle.URLTemplate = "https://quotes.example/v1/{ticker}"
	return cfg
}

func TestDefaults_ValidOnceOracleConfigured(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Store.Driver = "sqlite"
	cfg.Oracle.Kind = "http"
	cfg.Oracle.URLTemplate = "https://quotes.example/v1/latest"
	cfg.Ledger.PriceConcurrency = 0
	cfg.Archive.Enabled = true
	cfg.Archive.Cron = "every day"
	cfg.Server.Port = 0
	cfg.Server.APIKeyHash = "plaintext"
	cfg.Notify.TelegramToken = "t"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("Validate: want error")
	}
	for _, want := range []string{
		"log_level",
		"store: unknown driver",
		"url_template must contain {ticker}",
		"price_concurrency",
		"archive: requires s3.enabled",
		"archive: pipeline: parse cron",
		"server: port",
		"api_key_hash",
		"telegram_token and telegram_chat_id",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestValidate_StaticOracleAndMemoryStore(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "memory"
	cfg.Postgres.PoolMaxConns = 0
	cfg.Oracle.Kind = "static"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "[oracle.static]") {
		t.Fatalf("err=%v want missing static prices", err)
	}
	cfg.Oracle.Static = map[string]string{"AAPL": "190"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
log_level = "debug"

[store]
driver = "memory"

[oracle]
kind = "http"
url_template = "https://quotes.example/{ticker}"
timeout = "3s"

[archive]
enabled = false
cron = "*/5 * * * *"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TRADEIDEAS_SERVER_PORT", "9001")
	t.Setenv("TRADEIDEAS_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("TRADEIDEAS_ORACLE_CACHE_TTL", "1m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Store.Driver != "memory" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Oracle.Timeout.Duration != 3*time.Second || cfg.Oracle.CacheTTL.Duration != time.Minute {
		t.Fatalf("timeout=%s cache_ttl=%s", cfg.Oracle.Timeout.Duration, cfg.Oracle.CacheTTL.Duration)
	}
	if cfg.Server.Port != 9001 {
		t.Fatalf("port=%d want=9001", cfg.Server.Port)
	}
	if got := strings.Join(cfg.Server.CORSOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Fatalf("cors=%q", got)
	}
	if cfg.Postgres.Port != 5432 {
		t.Fatalf("default postgres port lost: %d", cfg.Postgres.Port)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[oracle]\nurl_tempalte = \"x\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "oracle.url_tempalte") {
		t.Fatalf("err=%v want unknown key", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = "postgres://app:hunter2@db:5432/tradeideas"
	cfg.Oracle.APIKey = "quote-key"
	cfg.Server.APIKey = "api-key"
	cfg.Oracle.Static = map[string]string{"AAPL": "1"}

	out := RedactedConfig(&cfg)
	if out.Oracle.APIKey != redacted || out.Server.APIKey != redacted {
		t.Fatalf("keys not redacted: %+v", out)
	}
	if strings.Contains(out.Postgres.DSN, "hunter2") || !strings.Contains(out.Postgres.DSN, "app:***@db") {
		t.Fatalf("dsn=%q", out.Postgres.DSN)
	}
	if out.Notify.TelegramToken != "" {
		t.Fatalf("empty secret became %q", out.Notify.TelegramToken)
	}

	out.Oracle.Static["AAPL"] = "2"
	out.Server.CORSOrigins[0] = "changed"
	if cfg.Oracle.Static["AAPL"] != "1" || cfg.Server.CORSOrigins[0] == "changed" {
		t.Fatalf("redacted copy aliases the original")
	}
	if cfg.Server.APIKey != "api-key" {
		t.Fatalf("original mutated")
	}
}
