package domain

import (
	"context"
	"time"
)

// IdeaFilter narrows an idea scan. Nil fields do not filter.
type IdeaFilter struct {
	Status     *IdeaStatus
	PaperTrade *bool
	SourceID   *int64
}

// TransactionFilter narrows a transaction scan. Zero values do not filter.
type TransactionFilter struct {
	Tickers       []string
	SourceID      *int64
	WatchedItemID *int64
	PaperOnly     bool
	Type          TransactionType
	// ClosedOnly keeps rows whose quantity_remaining is zero.
	ClosedOnly bool
	// UpdatedBefore keeps rows last updated strictly before this instant.
	UpdatedBefore *time.Time
}

// IdeaStore persists WatchedItems.
type IdeaStore interface {
	// Create inserts item and sets its ID and timestamps.
	Create(ctx context.Context, item *WatchedItem) error
	GetByID(ctx context.Context, id int64) (WatchedItem, error)
	// GetForUpdate reads an idea and holds it against concurrent writers
	// until the enclosing atomic unit ends.
	GetForUpdate(ctx context.Context, id int64) (WatchedItem, error)
	List(ctx context.Context, filter IdeaFilter) ([]WatchedItem, error)
	// Update writes every non-status field of item. Returns ErrNotFound when
	// no row matched.
	Update(ctx context.Context, item WatchedItem) error
	// SetStatus moves an idea from one status to another, failing with
	// ErrInvalidTransition if the stored status is not from.
	SetStatus(ctx context.Context, id int64, from, to IdeaStatus) error
	Delete(ctx context.Context, id int64) error
}

// TransactionStore persists Transactions.
type TransactionStore interface {
	// Create inserts tx and sets its ID and timestamps.
	Create(ctx context.Context, tx *Transaction) error
	GetByID(ctx context.Context, id int64) (Transaction, error)
	List(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	Update(ctx context.Context, tx Transaction) error
	// CloseBuy sets quantity_remaining to zero on an open BUY. It fails with
	// ErrInvalidTransition when the row is not a BUY or is already closed.
	CloseBuy(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	// DetachIdea clears watched_item_id on every transaction spawned by the
	// given idea and returns how many rows changed.
	DetachIdea(ctx context.Context, ideaID int64) (int64, error)
}

// RecordStore is the durable store behind the lifecycle core.
type RecordStore interface {
	Ideas() IdeaStore
	Transactions() TransactionStore
	// Atomic runs fn against a store view whose writes either all commit or
	// all roll back.
	Atomic(ctx context.Context, fn func(ctx context.Context, rs RecordStore) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
