package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// EventsHandler serves the lifecycle journal and the audit log. Either
// source may be nil, in which case its endpoint is not registered.
type EventsHandler struct {
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(bus domain.SignalBus, audit domain.AuditStore, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, audit: audit, logger: logger}
}

// HasJournal reports whether the lifecycle journal can be read.
func (h *EventsHandler) HasJournal() bool { return h != nil && h.bus != nil }

// HasAudit reports whether the audit log can be read.
func (h *EventsHandler) HasAudit() bool { return h != nil && h.audit != nil }

type journalEntry struct {
	ID    string                 `json:"id"`
	Event *domain.LifecycleEvent `json:"event,omitempty"`
	Raw   json.RawMessage        `json:"raw,omitempty"`
}

// Journal returns lifecycle events recorded after the ?after= stream id
// (default: from the start), at most ?count= (default 100, max 1000).
// GET /api/events
func (h *EventsHandler) Journal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = min(n, 1000)
	}

	msgs, err := h.bus.StreamRead(r.Context(), domain.StreamLifecycle, after, count)
	if err != nil {
		writeServiceError(w, r, h.logger, "read journal", err)
		return
	}
	out := make([]journalEntry, 0, len(msgs))
	for _, m := range msgs {
		e := journalEntry{ID: m.ID}
		var evt domain.LifecycleEvent
		if err := json.Unmarshal(m.Payload, &evt); err == nil {
			e.Event = &evt
		} else {
			e.Raw, _ = json.Marshal(string(m.Payload))
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, out)
}

type auditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt string         `json:"created_at"`
}

// Audit returns audit log rows, newest first, paged with ?limit=&offset=.
// GET /api/audit
func (h *EventsHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	out := make([]auditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntry{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
