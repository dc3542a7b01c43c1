package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// AuditLog is an in-process append-only audit log. It keeps at most
// capacity entries, dropping the oldest.
type AuditLog struct {
	mu       sync.Mutex
	entries  []domain.AuditEntry
	nextID   int64
	capacity int
	now      func() time.Time
}

var _ domain.AuditStore = (*AuditLog)(nil)

// NewAuditLog creates an AuditLog. A non-positive capacity defaults to 10000.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = 10000
	}
	return &AuditLog{
		capacity: capacity,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Log appends an entry.
func (a *AuditLog) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        a.nextID,
		Event:     event,
		Detail:    maps.Clone(detail),
		CreatedAt: a.now(),
	})
	if over := len(a.entries) - a.capacity; over > 0 {
		a.entries = append(a.entries[:0:0], a.entries[over:]...)
	}
	return nil
}

// List returns entries newest first, honouring the time window and paging
// in opts.
func (a *AuditLog) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.AuditEntry
	skipped := 0
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}
