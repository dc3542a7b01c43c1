package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeideas/internal/domain"
	"github.com/alanyoungcy/tradeideas/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func strPtr(s string) *string { return &s }

// stubOracle returns fixed prices and counts calls per ticker.
type stubOracle struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	calls  map[string]int
}

func newStubOracle(prices map[string]string) *stubOracle {
	o := &stubOracle{prices: map[string]decimal.Decimal{}, calls: map[string]int{}}
	for k, v := range prices {
		o.prices[k] = dec(v)
	}
	return o
}

func (o *stubOracle) Price(_ context.Context, ticker string) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[ticker]++
	p, ok := o.prices[ticker]
	if !ok {
		return decimal.Zero, domain.ErrPriceUnavailable
	}
	return p, nil
}

func (o *stubOracle) totalCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.calls {
		n += c
	}
	return n
}

// recordingBus captures published payloads.
type recordingBus struct {
	mu       sync.Mutex
	channels []string
	payloads []string
	journal  int
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, string(payload))
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error {
	b.mu.Lock()
	b.journal++
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *recordingBus) sawEvent(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.payloads {
		if strings.Contains(p, `"event":"`+name+`"`) {
			return true
		}
	}
	return false
}

// recordingAudit captures audit events.
type recordingAudit struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (a *recordingAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return a.err
}

func (a *recordingAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// heldLocks rejects every Acquire.
type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

// failingTxStore fails the chosen write.
type failingTxStore struct {
	domain.TransactionStore
	failCreate bool
	failUpdate bool
}

func (f failingTxStore) Create(ctx context.Context, tx *domain.Transaction) error {
	if f.failCreate {
		return errors.New("disk full")
	}
	return f.TransactionStore.Create(ctx, tx)
}

func (f failingTxStore) Update(ctx context.Context, tx domain.Transaction) error {
	if f.failUpdate {
		return errors.New("disk full")
	}
	return f.TransactionStore.Update(ctx, tx)
}

func (f failingTxStore) CloseBuy(ctx context.Context, id int64) error {
	if f.failUpdate {
		return errors.New("disk full")
	}
	return f.TransactionStore.CloseBuy(ctx, id)
}

// staleTxStore reports every BUY as fully open, the view a second seller
// has when it read the row before a concurrent sale committed.
type staleTxStore struct {
	domain.TransactionStore
}

func (s staleTxStore) GetByID(ctx context.Context, id int64) (domain.Transaction, error) {
	tx, err := s.TransactionStore.GetByID(ctx, id)
	if err == nil && tx.Type == domain.TransactionBuy {
		tx.QuantityRemaining = tx.Quantity
	}
	return tx, err
}

type staleStore struct {
	domain.RecordStore
}

func (s staleStore) Transactions() domain.TransactionStore {
	return staleTxStore{TransactionStore: s.RecordStore.Transactions()}
}

func (s staleStore) Atomic(ctx context.Context, fn func(ctx context.Context, rs domain.RecordStore) error) error {
	return s.RecordStore.Atomic(ctx, func(ctx context.Context, rs domain.RecordStore) error {
		return fn(ctx, staleStore{RecordStore: rs})
	})
}

// failingStore wraps a RecordStore so transaction writes inside atomic
// units fail.
type failingStore struct {
	domain.RecordStore
	failCreate bool
	failUpdate bool
}

func (f failingStore) Transactions() domain.TransactionStore {
	return failingTxStore{TransactionStore: f.RecordStore.Transactions(), failCreate: f.failCreate, failUpdate: f.failUpdate}
}

func (f failingStore) Atomic(ctx context.Context, fn func(ctx context.Context, rs domain.RecordStore) error) error {
	return f.RecordStore.Atomic(ctx, func(ctx context.Context, rs domain.RecordStore) error {
		return fn(ctx, failingStore{RecordStore: rs, failCreate: f.failCreate, failUpdate: f.failUpdate})
	})
}

type harness struct {
	store     *memory.Store
	oracle    *stubOracle
	bus       *recordingBus
	audit     *recordingAudit
	ledger    *Ledger
	lifecycle *Lifecycle
}

func newHarness(t *testing.T, prices map[string]string) *harness {
	t.Helper()
	return newHarnessWith(t, memory.New(), nil, prices)
}

func newHarnessWith(t *testing.T, mem *memory.Store, wrap func(domain.RecordStore) domain.RecordStore, prices map[string]string) *harness {
	t.Helper()
	var rs domain.RecordStore = mem
	if wrap != nil {
		rs = wrap(mem)
	}
	h := &harness{
		store:  mem,
		oracle: newStubOracle(prices),
		bus:    &recordingBus{},
		audit:  &recordingAudit{},
	}
	logger := testLogger()
	events := NewEvents(h.bus, h.audit, nil, logger)
	h.ledger = NewLedger(rs, h.oracle, nil, events, logger)
	h.lifecycle = NewLifecycle(rs, h.ledger, NewPriceBatcher(h.oracle, 4, logger), nil, events, logger)
	return h
}

func (h *harness) allTxs(t *testing.T) []domain.Transaction {
	t.Helper()
	txs, err := h.store.Transactions().List(context.Background(), domain.TransactionFilter{})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return txs
}

func (h *harness) allIdeas(t *testing.T) []domain.WatchedItem {
	t.Helper()
	items, err := h.store.Ideas().List(context.Background(), domain.IdeaFilter{})
	if err != nil {
		t.Fatalf("list ideas: %v", err)
	}
	return items
}

func (h *harness) watch(t *testing.T, ticker string) domain.WatchedItem {
	t.Helper()
	res, err := h.lifecycle.CreateIdea(context.Background(), CreateIdeaInput{Ticker: ticker})
	if err != nil {
		t.Fatalf("CreateIdea(%s): %v", ticker, err)
	}
	return res.Idea
}
