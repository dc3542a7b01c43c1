package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/tradeideas/internal/blob/s3"
	"github.com/alanyoungcy/tradeideas/internal/cache/redis"
	"github.com/alanyoungcy/tradeideas/internal/config"
	"github.com/alanyoungcy/tradeideas/internal/domain"
	"github.com/alanyoungcy/tradeideas/internal/notify"
	"github.com/alanyoungcy/tradeideas/internal/oracle"
	"github.com/alanyoungcy/tradeideas/internal/server/handler"
	"github.com/alanyoungcy/tradeideas/internal/store/memory"
	"github.com/alanyoungcy/tradeideas/internal/store/postgres"
)

// Dependencies bundles the concrete backends the application runs on.
// Optional backends are left as nil interfaces when not configured.
type Dependencies struct {
	Store domain.RecordStore
	Audit domain.AuditStore

	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	Oracle   domain.PriceOracle
	Archiver domain.Archiver
	Notifier *notify.Notifier

	// Checks are the health probes of every networked backend.
	Checks []handler.Checker
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them with a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{}

	// --- Record store ---
	switch cfg.Store.Driver {
	case "memory":
		deps.Store = memory.New()
		deps.Audit = memory.NewAuditLog(0)
		logger.WarnContext(ctx, "wire: using in-memory store; records are lost on restart")
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		pool := pgClient.Pool()
		deps.Store = postgres.NewRecordStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks = append(deps.Checks, handler.Checker{Name: "postgres", Ping: pgClient.Ping})
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Oracle.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient, logger)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks = append(deps.Checks, handler.Checker{Name: "redis", Ping: redisClient.Ping})
	}

	// --- Price oracle ---
	base, err := buildOracle(cfg.Oracle, deps.RateLimiter)
	if err != nil {
		return fail("oracle", err)
	}
	deps.Oracle = base
	if deps.PriceCache != nil && cfg.Oracle.CacheTTL.Duration > 0 {
		deps.Oracle = oracle.NewCachingOracle(base, deps.PriceCache, cfg.Oracle.CacheTTL.Duration, logger)
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		objects := s3blob.NewObjects(s3Client)
		deps.Archiver = s3blob.NewLedgerArchiver(objects, objects, deps.Store.Transactions(), deps.Audit, logger)
		deps.Checks = append(deps.Checks, handler.Checker{Name: "s3", Ping: s3Client.Ping})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildOracle creates the upstream price source selected by cfg.Kind.
func buildOracle(cfg config.OracleConfig, limiter domain.RateLimiter) (domain.PriceOracle, error) {
	switch cfg.Kind {
	case "static":
		return oracle.NewStaticOracle(cfg.Static)
	case "http":
		return oracle.NewHTTPOracle(oracle.HTTPConfig{
			URLTemplate:  cfg.URLTemplate,
			PricePath:    cfg.PricePath,
			APIKey:       cfg.APIKey,
			APIKeyHeader: cfg.APIKeyHeader,
			Timeout:      cfg.Timeout.Duration,
			Limiter:      limiter,
			RateLimit:    cfg.RateLimit,
			RateWindow:   cfg.RateWindow.Duration,
		})
	default:
		return nil, fmt.Errorf("unknown oracle kind %q", cfg.Kind)
	}
}
