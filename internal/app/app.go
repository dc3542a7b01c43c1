// Package app wires the stores, caches, oracle, services and HTTP surface
// together and runs them until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeideas/internal/config"
	"github.com/alanyoungcy/tradeideas/internal/pipeline"
	"github.com/alanyoungcy/tradeideas/internal/server"
	"github.com/alanyoungcy/tradeideas/internal/server/handler"
	"github.com/alanyoungcy/tradeideas/internal/server/ws"
	"github.com/alanyoungcy/tradeideas/internal/service"
)

const shutdownTimeout = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Services are the lifecycle services built over a set of Dependencies.
type Services struct {
	Events    *service.Events
	Ledger    *service.Ledger
	Lifecycle *service.Lifecycle
	Archive   *pipeline.ArchiveJob
}

// NewServices builds the service layer. Archive is nil when deps has no
// archiver.
func NewServices(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *Services {
	var alerts service.Alerter
	if deps.Notifier.Enabled() {
		alerts = deps.Notifier
	}
	events := service.NewEvents(deps.SignalBus, deps.Audit, alerts, logger)
	ledger := service.NewLedger(deps.Store, deps.Oracle, deps.LockManager, events, logger)
	prices := service.NewPriceBatcher(deps.Oracle, cfg.Ledger.PriceConcurrency, logger)

	s := &Services{
		Events:    events,
		Ledger:    ledger,
		Lifecycle: service.NewLifecycle(deps.Store, ledger, prices, deps.LockManager, events, logger),
	}
	if deps.Archiver != nil {
		s.Archive = pipeline.NewArchiveJob(deps.Archiver, cfg.Archive.RetentionDays, logger)
	}
	return s
}

// NewHTTPServer builds the API server and, when a signal bus is present,
// the WebSocket hub that must be run alongside it.
func NewHTTPServer(cfg *config.Config, deps *Dependencies, svcs *Services, logger *slog.Logger) (*server.Server, *ws.Hub) {
	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(deps.Checks, logger),
		Ideas:        handler.NewIdeaHandler(svcs.Lifecycle, logger),
		Transactions: handler.NewTransactionHandler(svcs.Ledger, svcs.Lifecycle, logger),
		Events:       handler.NewEventsHandler(deps.SignalBus, deps.Audit, logger),
	}
	if svcs.Archive != nil {
		handlers.Archive = handler.NewArchiveHandler(svcs.Archive, deps.Archiver, logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, cfg.Server.CORSOrigins, logger)
	}

	srv := server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.APIKey,
		APIKeyHash:  cfg.Server.APIKeyHash,
		RateLimit:   cfg.Server.RateLimit,
		RateWindow:  cfg.Server.RateWindow.Duration,
		Limiter:     deps.RateLimiter,
	}, handlers, hub, logger)
	return srv, hub
}

// Run wires every dependency and serves until ctx is cancelled. The HTTP
// server, the WebSocket hub and the archive cron run under one errgroup;
// the first failure stops the rest.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("store", a.cfg.Store.Driver),
		slog.String("oracle", a.cfg.Oracle.Kind),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	svcs := NewServices(a.cfg, deps, a.logger)
	srv, hub := NewHTTPServer(a.cfg, deps, svcs, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	if hub != nil {
		g.Go(func() error { return hub.Run(ctx) })
	}

	if svcs.Archive != nil && a.cfg.Archive.Enabled && a.cfg.Archive.Cron != "" {
		g.Go(func() error { return svcs.Archive.RunCron(ctx, a.cfg.Archive.Cron) })
	}

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.logger.Info("app: stopped")
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
