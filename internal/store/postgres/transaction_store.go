package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// TransactionStore implements domain.TransactionStore over the
// transactions table.
type TransactionStore struct {
	q querier
}

const txSelectCols = `id, is_paper_trade, user_id, source_id, watched_item_id,
	transaction_date, ticker, transaction_type, quantity, price, quantity_remaining,
	limit_low, limit_high, exchange, time, created_date, updated_date`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	var typ string

	err := row.Scan(
		&t.ID, &t.IsPaperTrade, &t.UserID, &t.SourceID, &t.WatchedItemID,
		&t.TransactionDate, &t.Ticker, &typ, &t.Quantity, &t.Price, &t.QuantityRemaining,
		&t.LimitLow, &t.LimitHigh, &t.Exchange, &t.Time, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	t.Type = domain.TransactionType(typ)
	return t, nil
}

// Create inserts a transaction and fills in the generated id and
// timestamps. A zero TransactionDate defaults to NOW().
func (s *TransactionStore) Create(ctx context.Context, t *domain.Transaction) error {
	const query = `
		INSERT INTO transactions (
			is_paper_trade, user_id, source_id, watched_item_id, transaction_date,
			ticker, transaction_type, quantity, price, quantity_remaining,
			limit_low, limit_high, exchange, time
		) VALUES ($1, $2, $3, $4, COALESCE($5, NOW()), $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, transaction_date, created_date, updated_date`

	var txDate any
	if !t.TransactionDate.IsZero() {
		txDate = t.TransactionDate
	}

	err := s.q.QueryRow(ctx, query,
		t.IsPaperTrade, t.UserID, t.SourceID, t.WatchedItemID, txDate,
		t.Ticker, string(t.Type), t.Quantity, t.Price, t.QuantityRemaining,
		t.LimitLow, t.LimitHigh, t.Exchange, t.Time,
	).Scan(&t.ID, &t.TransactionDate, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.StoreErr("postgres: create transaction "+t.Ticker, err)
	}
	return nil
}

// GetByID retrieves a single transaction.
func (s *TransactionStore) GetByID(ctx context.Context, id int64) (domain.Transaction, error) {
	row := s.q.QueryRow(ctx, `SELECT `+txSelectCols+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return domain.Transaction{}, notFound(fmt.Sprintf("get transaction %d", id), err)
	}
	return t, nil
}

// List returns transactions matching the filter ordered by id.
func (s *TransactionStore) List(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, error) {
	query := `SELECT ` + txSelectCols + ` FROM transactions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if len(f.Tickers) > 0 {
		query += fmt.Sprintf(" AND ticker = ANY($%d)", argIdx)
		args = append(args, f.Tickers)
		argIdx++
	}
	if f.SourceID != nil {
		query += fmt.Sprintf(" AND source_id = $%d", argIdx)
		args = append(args, *f.SourceID)
		argIdx++
	}
	if f.WatchedItemID != nil {
		query += fmt.Sprintf(" AND watched_item_id = $%d", argIdx)
		args = append(args, *f.WatchedItemID)
		argIdx++
	}
	if f.PaperOnly {
		query += " AND is_paper_trade"
	}
	if f.Type != "" {
		query += fmt.Sprintf(" AND transaction_type = $%d", argIdx)
		args = append(args, string(f.Type))
		argIdx++
	}
	if f.ClosedOnly {
		query += " AND quantity_remaining = 0"
	}
	if f.UpdatedBefore != nil {
		query += fmt.Sprintf(" AND updated_date < $%d", argIdx)
		args = append(args, *f.UpdatedBefore)
	}
	query += " ORDER BY id"

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreErr("postgres: list transactions", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, domain.StoreErr("postgres: scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreErr("postgres: list transactions rows", err)
	}
	return out, nil
}

// Update rewrites the mutable columns of a transaction.
func (s *TransactionStore) Update(ctx context.Context, t domain.Transaction) error {
	const query = `
		UPDATE transactions SET
			source_id          = $2,
			watched_item_id    = $3,
			transaction_date   = $4,
			ticker             = $5,
			quantity           = $6,
			price              = $7,
			quantity_remaining = $8,
			limit_low          = $9,
			limit_high         = $10,
			exchange           = $11,
			time               = $12,
			updated_date       = NOW()
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		t.ID, t.SourceID, t.WatchedItemID, t.TransactionDate, t.Ticker,
		t.Quantity, t.Price, t.QuantityRemaining,
		t.LimitLow, t.LimitHigh, t.Exchange, t.Time,
	)
	if err != nil {
		return domain.StoreErr(fmt.Sprintf("postgres: update transaction %d", t.ID), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update transaction %d: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

// CloseBuy zeroes quantity_remaining on an open BUY. The WHERE clause is the
// compare-and-set: a concurrent sale that closed the row first leaves nothing
// to match.
func (s *TransactionStore) CloseBuy(ctx context.Context, id int64) error {
	const query = `
		UPDATE transactions SET quantity_remaining = 0, updated_date = NOW()
		WHERE id = $1 AND transaction_type = 'BUY' AND quantity_remaining > 0`

	tag, err := s.q.Exec(ctx, query, id)
	if err != nil {
		return domain.StoreErr(fmt.Sprintf("postgres: close buy %d", id), err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var typ string
	err = s.q.QueryRow(ctx, `SELECT transaction_type FROM transactions WHERE id = $1`, id).Scan(&typ)
	if err != nil {
		return notFound(fmt.Sprintf("close buy %d", id), err)
	}
	return fmt.Errorf("postgres: transaction %d (%s) is not an open BUY: %w", id, typ, domain.ErrInvalidTransition)
}

// Delete removes a transaction.
func (s *TransactionStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return domain.StoreErr(fmt.Sprintf("postgres: delete transaction %d", id), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete transaction %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DetachIdea nulls watched_item_id on every transaction of the idea.
func (s *TransactionStore) DetachIdea(ctx context.Context, ideaID int64) (int64, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE transactions SET watched_item_id = NULL, updated_date = NOW() WHERE watched_item_id = $1`,
		ideaID,
	)
	if err != nil {
		return 0, domain.StoreErr(fmt.Sprintf("postgres: detach idea %d", ideaID), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TransactionStore = (*TransactionStore)(nil)
