package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Checker pings one backing dependency.
type Checker struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks  []Checker
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler over the given dependency checks.
func NewHealthHandler(checks []Checker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second, logger: logger}
}

// HealthCheck reports "ok" when every dependency answers and "degraded"
// with status 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: health check failed",
				slog.String("dependency", c.Name),
				slog.String("error", err.Error()),
			)
			deps[c.Name] = "down"
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[c.Name] = "up"
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
