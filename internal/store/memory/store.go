// Package memory implements the domain record store in process memory. It
// backs tests and single-process installs that run without PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// Store keeps ideas and transactions in maps keyed by id. Atomic units and
// every write made outside one are serialised on atomicMu, so a unit that
// rolls back by restoring its entry snapshot cannot discard another caller's
// committed write. Ids are never reused, even after a rollback.
type Store struct {
	mu       sync.RWMutex
	atomicMu sync.Mutex

	ideas    map[int64]domain.WatchedItem
	txs      map[int64]domain.Transaction
	nextIdea int64
	nextTx   int64

	now func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		ideas: make(map[int64]domain.WatchedItem),
		txs:   make(map[int64]domain.Transaction),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Ideas returns the idea view of the store.
func (s *Store) Ideas() domain.IdeaStore { return ideaStore{s: s} }

// Transactions returns the transaction view of the store.
func (s *Store) Transactions() domain.TransactionStore { return txStore{s: s} }

// Atomic runs fn and restores the pre-call state if fn returns an error.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, rs domain.RecordStore) error) error {
	s.atomicMu.Lock()
	defer s.atomicMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, unit{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	ideas map[int64]domain.WatchedItem
	txs   map[int64]domain.Transaction
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ideas := make(map[int64]domain.WatchedItem, len(s.ideas))
	for k, v := range s.ideas {
		ideas[k] = v
	}
	txs := make(map[int64]domain.Transaction, len(s.txs))
	for k, v := range s.txs {
		txs[k] = v
	}
	return snapshot{ideas: ideas, txs: txs}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ideas = snap.ideas
	s.txs = snap.txs
}

// writeLock serialises a write with open atomic units. Writes issued from
// inside a unit already hold atomicMu.
func (s *Store) writeLock(inUnit bool) func() {
	if inUnit {
		return func() {}
	}
	s.atomicMu.Lock()
	return s.atomicMu.Unlock
}

// unit is the store view handed to an Atomic callback. Nested Atomic calls
// join the enclosing unit.
type unit struct{ s *Store }

func (u unit) Ideas() domain.IdeaStore               { return ideaStore{s: u.s, inUnit: true} }
func (u unit) Transactions() domain.TransactionStore { return txStore{s: u.s, inUnit: true} }
func (u unit) Atomic(ctx context.Context, fn func(ctx context.Context, rs domain.RecordStore) error) error {
	return fn(ctx, u)
}

// ---------------------------------------------------------------------------
// Ideas
// ---------------------------------------------------------------------------

type ideaStore struct {
	s      *Store
	inUnit bool
}

func (st ideaStore) Create(_ context.Context, item *domain.WatchedItem) error {
	s := st.s
	defer s.writeLock(st.inUnit)()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextIdea++
	now := s.now()
	item.ID = s.nextIdea
	item.CreatedAt = now
	item.UpdatedAt = now
	s.ideas[item.ID] = *item
	return nil
}

func (st ideaStore) GetByID(_ context.Context, id int64) (domain.WatchedItem, error) {
	s := st.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.ideas[id]
	if !ok {
		return domain.WatchedItem{}, fmt.Errorf("memory: idea %d: %w", id, domain.ErrNotFound)
	}
	return item, nil
}

// GetForUpdate is GetByID; atomic units already run one at a time.
func (st ideaStore) GetForUpdate(ctx context.Context, id int64) (domain.WatchedItem, error) {
	return st.GetByID(ctx, id)
}

func (st ideaStore) List(_ context.Context, f domain.IdeaFilter) ([]domain.WatchedItem, error) {
	s := st.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.WatchedItem, 0, len(s.ideas))
	for _, item := range s.ideas {
		if f.Status != nil && item.Status != *f.Status {
			continue
		}
		if f.PaperTrade != nil && item.IsPaperTrade != *f.PaperTrade {
			continue
		}
		if f.SourceID != nil && (item.SourceID == nil || *item.SourceID != *f.SourceID) {
			continue
		}
		out = append(out, item)
	}
	slices.SortFunc(out, func(a, b domain.WatchedItem) int { return compareID(a.ID, b.ID) })
	return out, nil
}

func (st ideaStore) Update(_ context.Context, item domain.WatchedItem) error {
	s := st.s
	defer s.writeLock(st.inUnit)()
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.ideas[item.ID]
	if !ok {
		return fmt.Errorf("memory: update idea %d: %w", item.ID, domain.ErrNotFound)
	}
	item.Status = cur.Status
	item.IsPaperTrade = cur.IsPaperTrade
	item.UserID = cur.UserID
	item.CreatedAt = cur.CreatedAt
	item.UpdatedAt = s.now()
	s.ideas[item.ID] = item
	return nil
}

func (st ideaStore) SetStatus(_ context.Context, id int64, from, to domain.IdeaStatus) error {
	s := st.s
	defer s.writeLock(st.inUnit)()
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.ideas[id]
	if !ok {
		return fmt.Errorf("memory: set status of idea %d: %w", id, domain.ErrNotFound)
	}
	if cur.Status != from {
		return fmt.Errorf("memory: idea %d is %s, not %s: %w", id, cur.Status, from, domain.ErrInvalidTransition)
	}
	cur.Status = to
	cur.UpdatedAt = s.now()
	s.ideas[id] = cur
	return nil
}

func (st ideaStore) Delete(_ context.Context, id int64) error {
	s := st.s
	defer s.writeLock(st.inUnit)()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ideas[id]; !ok {
		return fmt.Errorf("memory: delete idea %d: %w", id, domain.ErrNotFound)
	}
	delete(s.ideas, id)
	return nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

type txStore struct {
	s      *Store
	inUnit bool
}

func (st txStore) Create(_ context.Context, tx *domain.Transaction) error {
	s := st.s
	defer s.writeLock(st.inUnit)()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTx++
	now := s.now()
	tx.ID = s.nextTx
	tx.CreatedAt = now
	tx.UpdatedAt = now
	if tx.TransactionDate.IsZero() {
		tx.TransactionDate = now
	}
	s.txs[tx.ID] = *tx
	return nil
}

func (st txStore) GetByID(_ context.Context, id int64) (domain.Transaction, error) {
	s := st.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[id]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("memory: transaction %d: %w", id, domain.ErrNotFound)
	}
	return tx, nil
}

func (st txStore) List(_ context.Context, f domain.TransactionFilter) ([]domain.Transaction, error) {
	s := st.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		if matchTx(tx, f) {
			out = append(out, tx)
		}
	}
	slices.SortFunc(out, func(a, b domain.Transaction) int { return compareID(a.ID, b.ID) })
	return out, nil
}

func matchTx(tx domain.Transaction, f domain.TransactionFilter) bool {
	if len(f.Tickers) > 0 && !slices.Contains(f.Tickers, tx.Ticker) {
		return false
	}
	if f.SourceID != nil && (tx.SourceID == nil || *tx.SourceID != *f.SourceID) {
		return false
	}
	if f.WatchedItemID != nil && (tx.WatchedItemID == nil || *tx.WatchedItemID != *f.WatchedItemID) {
		return false
	}
	if f.PaperOnly && !tx.IsPaperTrade {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.ClosedOnly && !tx.QuantityRemaining.IsZero() {
		return false
	}
	if f.UpdatedBefore != nil && !tx.UpdatedAt.Before(*f.UpdatedBefore) {
		return false
	}
	return true
}

func (st txStore) Update(_ context.Context, tx domain.Transaction) error {
	s := st.s
	defer s.writeLock(st.inUnit)()
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.txs[tx.ID]
	if !ok {
		return fmt.Errorf("memory: update transaction %d: %w", tx.ID, domain.ErrNotFound)
	}
	tx.CreatedAt = cur.CreatedAt
	tx.UpdatedAt = s.now()
	s.txs[tx.ID] = tx
	return nil
}

func (st txStore) CloseBuy(_ context.Context, id int64) error {
	s := st.s
	defer s.writeLock(st.inUnit)()
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("memory: close buy %d: %w", id, domain.ErrNotFound)
	}
	if cur.Type != domain.TransactionBuy || !cur.QuantityRemaining.IsPositive() {
		return fmt.Errorf("memory: transaction %d (%s) is not an open BUY: %w", id, cur.Type, domain.ErrInvalidTransition)
	}
	cur.QuantityRemaining = decimal.Zero
	cur.UpdatedAt = s.now()
	s.txs[id] = cur
	return nil
}

func (st txStore) Delete(_ context.Context, id int64) error {
	s := st.s
	defer s.writeLock(st.inUnit)()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txs[id]; !ok {
		return fmt.Errorf("memory: delete transaction %d: %w", id, domain.ErrNotFound)
	}
	delete(s.txs, id)
	return nil
}

func (st txStore) DetachIdea(_ context.Context, ideaID int64) (int64, error) {
	s := st.s
	defer s.writeLock(st.inUnit)()
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := s.now()
	for id, tx := range s.txs {
		if tx.WatchedItemID != nil && *tx.WatchedItemID == ideaID {
			tx.WatchedItemID = nil
			tx.UpdatedAt = now
			s.txs[id] = tx
			n++
		}
	}
	return n, nil
}

func compareID(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Compile-time interface checks.
var (
	_ domain.RecordStore = (*Store)(nil)
	_ domain.RecordStore = unit{}
)
