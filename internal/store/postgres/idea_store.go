package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// IdeaStore implements domain.IdeaStore over the watched_items table.
type IdeaStore struct {
	q querier
}

const ideaSelectCols = `id, is_paper_trade, user_id, source_id, strategy_id, ticker,
	order_type, buy_price_low, buy_price_high, take_profit_low, take_profit_high,
	escape_price, status, notes, created_date, updated_date`

func scanIdea(row pgx.Row) (domain.WatchedItem, error) {
	var it domain.WatchedItem
	var status string

	err := row.Scan(
		&it.ID, &it.IsPaperTrade, &it.UserID, &it.SourceID, &it.StrategyID, &it.Ticker,
		&it.OrderType, &it.BuyPriceLow, &it.BuyPriceHigh, &it.TakeProfitLow, &it.TakeProfitHigh,
		&it.EscapePrice, &status, &it.Notes, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return domain.WatchedItem{}, err
	}
	if it.Status, err = domain.ParseIdeaStatus(status); err != nil {
		return domain.WatchedItem{}, err
	}
	return it, nil
}

// Create inserts a new idea and fills in the generated id and timestamps.
func (s *IdeaStore) Create(ctx context.Context, it *domain.WatchedItem) error {
	const query = `
		INSERT INTO watched_items (
			is_paper_trade, user_id, source_id, strategy_id, ticker, order_type,
			buy_price_low, buy_price_high, take_profit_low, take_profit_high,
			escape_price, status, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_date, updated_date`

	err := s.q.QueryRow(ctx, query,
		it.IsPaperTrade, it.UserID, it.SourceID, it.StrategyID, it.Ticker, it.OrderType,
		it.BuyPriceLow, it.BuyPriceHigh, it.TakeProfitLow, it.TakeProfitHigh,
		it.EscapePrice, string(it.Status), it.Notes,
	).Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return domain.StoreErr("postgres: create idea "+it.Ticker, err)
	}
	return nil
}

// GetByID retrieves a single idea.
func (s *IdeaStore) GetByID(ctx context.Context, id int64) (domain.WatchedItem, error) {
	row := s.q.QueryRow(ctx, `SELECT `+ideaSelectCols+` FROM watched_items WHERE id = $1`, id)
	it, err := scanIdea(row)
	if err != nil {
		return domain.WatchedItem{}, notFound(fmt.Sprintf("get idea %d", id), err)
	}
	return it, nil
}

// GetForUpdate reads an idea with a row lock. Outside a transaction the lock
// is released as soon as the statement completes.
func (s *IdeaStore) GetForUpdate(ctx context.Context, id int64) (domain.WatchedItem, error) {
	row := s.q.QueryRow(ctx, `SELECT `+ideaSelectCols+` FROM watched_items WHERE id = $1 FOR UPDATE`, id)
	it, err := scanIdea(row)
	if err != nil {
		return domain.WatchedItem{}, notFound(fmt.Sprintf("get idea %d for update", id), err)
	}
	return it, nil
}

// List returns ideas matching the filter ordered by id.
func (s *IdeaStore) List(ctx context.Context, f domain.IdeaFilter) ([]domain.WatchedItem, error) {
	query := `SELECT ` + ideaSelectCols + ` FROM watched_items WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}
	if f.PaperTrade != nil {
		query += fmt.Sprintf(" AND is_paper_trade = $%d", argIdx)
		args = append(args, *f.PaperTrade)
		argIdx++
	}
	if f.SourceID != nil {
		query += fmt.Sprintf(" AND source_id = $%d", argIdx)
		args = append(args, *f.SourceID)
	}
	query += " ORDER BY id"

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreErr("postgres: list ideas", err)
	}
	defer rows.Close()

	var out []domain.WatchedItem
	for rows.Next() {
		it, err := scanIdea(rows)
		if err != nil {
			return nil, domain.StoreErr("postgres: scan idea", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreErr("postgres: list ideas rows", err)
	}
	return out, nil
}

// Update rewrites the editable columns. Status, paper flag and owner are
// not touched.
func (s *IdeaStore) Update(ctx context.Context, it domain.WatchedItem) error {
	const query = `
		UPDATE watched_items SET
			source_id        = $2,
			strategy_id      = $3,
			ticker           = $4,
			order_type       = $5,
			buy_price_low    = $6,
			buy_price_high   = $7,
			take_profit_low  = $8,
			take_profit_high = $9,
			escape_price     = $10,
			notes            = $11,
			updated_date     = NOW()
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		it.ID, it.SourceID, it.StrategyID, it.Ticker, it.OrderType,
		it.BuyPriceLow, it.BuyPriceHigh, it.TakeProfitLow, it.TakeProfitHigh,
		it.EscapePrice, it.Notes,
	)
	if err != nil {
		return domain.StoreErr(fmt.Sprintf("postgres: update idea %d", it.ID), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update idea %d: %w", it.ID, domain.ErrNotFound)
	}
	return nil
}

// SetStatus performs a compare-and-set on the status column.
func (s *IdeaStore) SetStatus(ctx context.Context, id int64, from, to domain.IdeaStatus) error {
	const query = `
		UPDATE watched_items SET status = $3, updated_date = NOW()
		WHERE id = $1 AND status = $2`

	tag, err := s.q.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return domain.StoreErr(fmt.Sprintf("postgres: set status of idea %d", id), err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing row from a status mismatch.
	var cur string
	err = s.q.QueryRow(ctx, `SELECT status FROM watched_items WHERE id = $1`, id).Scan(&cur)
	if err != nil {
		return notFound(fmt.Sprintf("set status of idea %d", id), err)
	}
	return fmt.Errorf("postgres: idea %d is %s, not %s: %w", id, cur, from, domain.ErrInvalidTransition)
}

// Delete removes an idea.
func (s *IdeaStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM watched_items WHERE id = $1`, id)
	if err != nil {
		return domain.StoreErr(fmt.Sprintf("postgres: delete idea %d", id), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete idea %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.IdeaStore = (*IdeaStore)(nil)
