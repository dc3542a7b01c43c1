package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same store
// code runs inside and outside an atomic unit.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RecordStore implements domain.RecordStore using PostgreSQL.
type RecordStore struct {
	q querier
}

// NewRecordStore creates a RecordStore backed by the given pool (or tx).
func NewRecordStore(q querier) *RecordStore {
	return &RecordStore{q: q}
}

// Ideas returns the watched_items view.
func (s *RecordStore) Ideas() domain.IdeaStore { return &IdeaStore{q: s.q} }

// Transactions returns the transactions view.
func (s *RecordStore) Transactions() domain.TransactionStore { return &TransactionStore{q: s.q} }

// Atomic runs fn inside a database transaction. When s is already bound to
// a transaction, pgx opens a savepoint instead.
func (s *RecordStore) Atomic(ctx context.Context, fn func(ctx context.Context, rs domain.RecordStore) error) error {
	return pgx.BeginFunc(ctx, s.q, func(tx pgx.Tx) error {
		return fn(ctx, &RecordStore{q: tx})
	})
}

// notFound maps pgx.ErrNoRows to domain.ErrNotFound and tags everything
// else as a store failure.
func notFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", op, domain.ErrNotFound)
	}
	return domain.StoreErr("postgres: "+op, err)
}

// Compile-time interface check.
var _ domain.RecordStore = (*RecordStore)(nil)
