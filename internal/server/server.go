// Package server hosts the HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradeideas/internal/domain"
	"github.com/alanyoungcy/tradeideas/internal/server/handler"
	"github.com/alanyoungcy/tradeideas/internal/server/middleware"
	"github.com/alanyoungcy/tradeideas/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey and APIKeyHash (bcrypt) guard every route except health; both
	// empty disables authentication.
	APIKey     string
	APIKeyHash string
	// RateLimit is the per-client request budget per RateWindow; zero or a
	// nil Limiter disables limiting.
	RateLimit  int
	RateWindow time.Duration
	Limiter    domain.RateLimiter
}

// Handlers aggregates the HTTP handlers. Archive and Events may be nil when
// their backing services are not configured.
type Handlers struct {
	Health       *handler.HealthHandler
	Ideas        *handler.IdeaHandler
	Transactions *handler.TransactionHandler
	Archive      *handler.ArchiveHandler
	Events       *handler.EventsHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

const healthPath = "/api/health"

// NewServer registers every route and wraps the mux in the middleware
// chain: CORS, logging, rate limiting, auth.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/ideas", handlers.Ideas.Create)
	mux.HandleFunc("GET /api/ideas", handlers.Ideas.ListOpen)
	mux.HandleFunc("GET /api/ideas/{id}", handlers.Ideas.Get)
	mux.HandleFunc("PUT /api/ideas/{id}", handlers.Ideas.Update)
	mux.HandleFunc("DELETE /api/ideas/{id}", handlers.Ideas.Delete)
	mux.HandleFunc("POST /api/ideas/{id}/paper", handlers.Ideas.ToPaper)
	mux.HandleFunc("POST /api/ideas/{id}/real", handlers.Ideas.ToReal)

	mux.HandleFunc("GET /api/transactions", handlers.Transactions.List)
	mux.HandleFunc("GET /api/transactions/paper", handlers.Transactions.ListPaper)
	mux.HandleFunc("GET /api/transactions/{id}", handlers.Transactions.Get)
	mux.HandleFunc("PUT /api/transactions/{id}", handlers.Transactions.Update)
	mux.HandleFunc("DELETE /api/transactions/{id}", handlers.Transactions.Delete)
	mux.HandleFunc("POST /api/transactions/{id}/sell", handlers.Transactions.Sell)

	if handlers.Archive != nil {
		mux.HandleFunc("POST /api/archive/trigger", handlers.Archive.Trigger)
		mux.HandleFunc("GET /api/archive", handlers.Archive.List)
		mux.HandleFunc("GET /api/archive/object", handlers.Archive.Download)
	}
	if handlers.Events.HasJournal() {
		mux.HandleFunc("GET /api/events", handlers.Events.Journal)
	}
	if handlers.Events.HasAudit() {
		mux.HandleFunc("GET /api/audit", handlers.Events.Audit)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(middleware.AuthConfig{
		APIKey:     cfg.APIKey,
		APIKeyHash: cfg.APIKeyHash,
		Public:     []string{healthPath},
	})(h)
	h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{httpServer: srv, handler: h, logger: logger}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests to finish within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
