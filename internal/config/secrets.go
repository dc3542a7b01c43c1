package config

import (
	"maps"
	"net/url"
	"slices"
	"strings"
)

// RedactedConfig returns a copy of cfg with secrets replaced by "***", safe
// to log.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.Password)
	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Oracle.APIKey)
	redact(&out.Server.APIKey)
	redact(&out.Server.APIKeyHash)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy reference types so the redacted view cannot alias the original.
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Oracle.Static = maps.Clone(cfg.Oracle.Static)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactDSN masks the password of a URL-form DSN and the whole value of
// anything else.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return redacted
	}
	if _, ok := u.User.Password(); !ok {
		return u.String()
	}
	// url.UserPassword would percent-escape the mask.
	u.User = url.User(u.User.Username())
	user := u.User.String() + "@"
	return strings.Replace(u.String(), user, strings.TrimSuffix(user, "@")+":"+redacted+"@", 1)
}
