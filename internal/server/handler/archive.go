package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// ArchiveRunner runs one archive pass.
type ArchiveRunner interface {
	Run(ctx context.Context) (int64, error)
	Cutoff() time.Time
}

// ArchiveHandler exposes the ledger archive.
type ArchiveHandler struct {
	job      ArchiveRunner
	archives domain.Archiver
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(job ArchiveRunner, archives domain.Archiver, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{job: job, archives: archives, logger: logger}
}

// Trigger runs an archive pass immediately.
// POST /api/archive/trigger
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	cutoff := h.job.Cutoff()
	n, err := h.job.Run(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "archive trigger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archived": n,
		"cutoff":   cutoff.Format(time.RFC3339),
	})
}

// List returns the archive objects written so far.
// GET /api/archive
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	infos, err := h.archives.Archives(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "archive list", err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// Download streams one archive object as JSON lines.
// GET /api/archive/object?path=ledger/...
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	rc, err := h.archives.Open(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, h.logger, "archive download", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(p)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive download interrupted",
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
	}
}
