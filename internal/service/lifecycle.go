package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// CreateIdeaInput is the request to log a new idea. Quantity and Price are
// required when IsPaperTrade is set and ignored otherwise.
type CreateIdeaInput struct {
	IsPaperTrade   bool
	UserID         int64
	SourceID       *int64
	StrategyID     *int64
	Ticker         string
	OrderType      *string
	BuyPriceLow    decimal.NullDecimal
	BuyPriceHigh   decimal.NullDecimal
	TakeProfitLow  decimal.NullDecimal
	TakeProfitHigh decimal.NullDecimal
	EscapePrice    decimal.NullDecimal
	Notes          *string

	Quantity decimal.NullDecimal
	Price    decimal.NullDecimal
	Exchange *string
	Time     *string
}

// IdeaResult is an idea together with the BUY that executed it, if any.
type IdeaResult struct {
	Idea domain.WatchedItem  `json:"idea"`
	Buy  *domain.Transaction `json:"buy,omitempty"`
}

// Lifecycle is the only writer of idea status. It sequences idea creation
// and promotion of an idea into a BUY.
type Lifecycle struct {
	store  domain.RecordStore
	ledger *Ledger
	prices *PriceBatcher
	locks  domain.LockManager
	events *Events
	logger *slog.Logger
}

// NewLifecycle creates a Lifecycle. locks and events may be nil.
func NewLifecycle(
	store domain.RecordStore,
	ledger *Ledger,
	prices *PriceBatcher,
	locks domain.LockManager,
	events *Events,
	logger *slog.Logger,
) *Lifecycle {
	return &Lifecycle{
		store:  store,
		ledger: ledger,
		prices: prices,
		locks:  locks,
		events: events,
		logger: logger,
	}
}

// CreateIdea stores a new idea. A paper idea is stored EXECUTED together
// with its BUY in one atomic unit.
func (s *Lifecycle) CreateIdea(ctx context.Context, in CreateIdeaInput) (IdeaResult, error) {
	ticker := normalizeTicker(in.Ticker)
	if ticker == "" {
		return IdeaResult{}, fmt.Errorf("lifecycle: create idea: %w", domain.Invalidf("ticker is required"))
	}
	userID := in.UserID
	if userID == 0 {
		userID = domain.DefaultUserID
	}

	item := domain.WatchedItem{
		IsPaperTrade:   in.IsPaperTrade,
		UserID:         userID,
		SourceID:       in.SourceID,
		StrategyID:     in.StrategyID,
		Ticker:         ticker,
		OrderType:      nullIfBlank(in.OrderType),
		BuyPriceLow:    in.BuyPriceLow,
		BuyPriceHigh:   in.BuyPriceHigh,
		TakeProfitLow:  in.TakeProfitLow,
		TakeProfitHigh: in.TakeProfitHigh,
		EscapePrice:    in.EscapePrice,
		Status:         domain.StatusWatching,
		Notes:          nullIfBlank(in.Notes),
	}

	if !in.IsPaperTrade {
		if err := s.store.Ideas().Create(ctx, &item); err != nil {
			return IdeaResult{}, fmt.Errorf("lifecycle: create idea: %w", domain.StoreErr("create idea", err))
		}
		s.logger.InfoContext(ctx, "lifecycle: idea created",
			slog.Int64("idea_id", item.ID),
			slog.String("ticker", item.Ticker),
		)
		s.events.Emit(ctx, domain.ChannelIdeas, domain.LifecycleEvent{
			Event:  domain.EventIdeaCreated,
			IdeaID: item.ID,
			Ticker: item.Ticker,
		})
		return IdeaResult{Idea: item}, nil
	}

	if !in.Quantity.Valid || !in.Price.Valid {
		return IdeaResult{}, fmt.Errorf("lifecycle: create idea: %w", domain.Invalidf("a paper idea requires quantity and price"))
	}
	fill := domain.Fill{
		Quantity: in.Quantity.Decimal,
		Price:    in.Price.Decimal,
		Exchange: in.Exchange,
		Time:     in.Time,
	}
	if err := validateFill(fill); err != nil {
		return IdeaResult{}, fmt.Errorf("lifecycle: create idea: %w", err)
	}

	item.Status = domain.StatusExecuted
	var buy domain.Transaction
	err := s.store.Atomic(ctx, func(ctx context.Context, rs domain.RecordStore) error {
		if err := rs.Ideas().Create(ctx, &item); err != nil {
			return domain.StoreErr("create idea", err)
		}
		var err error
		buy, err = recordBuy(ctx, rs.Transactions(), BuyInput{
			IsPaperTrade:  true,
			UserID:        item.UserID,
			SourceID:      item.SourceID,
			WatchedItemID: &item.ID,
			Ticker:        item.Ticker,
			Fill:          fill,
		})
		return err
	})
	if err != nil {
		return IdeaResult{}, fmt.Errorf("lifecycle: create paper idea: %w", err)
	}

	s.logger.InfoContext(ctx, "lifecycle: paper idea created",
		slog.Int64("idea_id", item.ID),
		slog.Int64("transaction_id", buy.ID),
		slog.String("ticker", item.Ticker),
	)
	s.events.Emit(ctx, domain.ChannelIdeas, domain.LifecycleEvent{
		Event:         domain.EventIdeaExecuted,
		IdeaID:        item.ID,
		TransactionID: buy.ID,
		Ticker:        item.Ticker,
		PaperTrade:    true,
	})
	return IdeaResult{Idea: item, Buy: &buy}, nil
}

// ListOpenIdeas returns WATCHING, non-paper ideas with the current price
// of each ticker. Tickers the oracle cannot price carry a null price.
func (s *Lifecycle) ListOpenIdeas(ctx context.Context) ([]domain.IdeaWithPrice, error) {
	watching := domain.StatusWatching
	notPaper := false
	items, err := s.store.Ideas().List(ctx, domain.IdeaFilter{Status: &watching, PaperTrade: &notPaper})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list open ideas: %w", domain.StoreErr("list ideas", err))
	}

	tickers := make([]string, 0, len(items))
	for _, it := range items {
		tickers = append(tickers, it.Ticker)
	}
	quotes := s.prices.Prices(ctx, tickers)

	out := make([]domain.IdeaWithPrice, 0, len(items))
	for _, it := range items {
		row := domain.IdeaWithPrice{WatchedItem: it}
		if p, ok := quotes[it.Ticker]; ok {
			row.CurrentPrice = decimal.NewNullDecimal(p)
		}
		out = append(out, row)
	}
	return out, nil
}

// GetIdea returns one idea.
func (s *Lifecycle) GetIdea(ctx context.Context, id int64) (domain.WatchedItem, error) {
	item, err := s.store.Ideas().GetByID(ctx, id)
	if err != nil {
		return domain.WatchedItem{}, fmt.Errorf("lifecycle: get idea %d: %w", id, domain.StoreErr("get idea", err))
	}
	return item, nil
}

// UpdateIdea edits the descriptive fields of an idea. Status is never
// changed here.
func (s *Lifecycle) UpdateIdea(ctx context.Context, id int64, patch domain.IdeaPatch) (domain.WatchedItem, error) {
	if patch.Ticker != nil {
		t := normalizeTicker(*patch.Ticker)
		if t == "" {
			return domain.WatchedItem{}, fmt.Errorf("lifecycle: update idea %d: %w", id, domain.Invalidf("ticker cannot be empty"))
		}
		patch.Ticker = &t
	}

	var item domain.WatchedItem
	err := s.store.Atomic(ctx, func(ctx context.Context, rs domain.RecordStore) error {
		cur, err := rs.Ideas().GetForUpdate(ctx, id)
		if err != nil {
			return domain.StoreErr("get idea", err)
		}
		patch.Apply(&cur)
		cur.OrderType = nullIfBlank(cur.OrderType)
		cur.Notes = nullIfBlank(cur.Notes)
		if err := rs.Ideas().Update(ctx, cur); err != nil {
			return domain.StoreErr("update idea", err)
		}

		// Re-read so status and timestamps reflect the stored row.
		item, err = rs.Ideas().GetByID(ctx, id)
		return domain.StoreErr("get idea", err)
	})
	if err != nil {
		return domain.WatchedItem{}, fmt.Errorf("lifecycle: update idea %d: %w", id, err)
	}
	s.events.Emit(ctx, domain.ChannelIdeas, domain.LifecycleEvent{
		Event:      domain.EventIdeaUpdated,
		IdeaID:     item.ID,
		Ticker:     item.Ticker,
		PaperTrade: item.IsPaperTrade,
	})
	return item, nil
}

// DeleteIdea removes an idea and clears the idea reference on its
// transactions in the same atomic unit.
func (s *Lifecycle) DeleteIdea(ctx context.Context, id int64) error {
	var (
		item     domain.WatchedItem
		detached int64
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, rs domain.RecordStore) error {
		var err error
		item, err = rs.Ideas().GetByID(ctx, id)
		if err != nil {
			return domain.StoreErr("get idea", err)
		}
		detached, err = rs.Transactions().DetachIdea(ctx, id)
		if err != nil {
			return domain.StoreErr("detach transactions", err)
		}
		if err := rs.Ideas().Delete(ctx, id); err != nil {
			return domain.StoreErr("delete idea", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("lifecycle: delete idea %d: %w", id, err)
	}

	s.logger.InfoContext(ctx, "lifecycle: idea deleted",
		slog.Int64("idea_id", id),
		slog.Int64("detached_transactions", detached),
	)
	s.events.Emit(ctx, domain.ChannelIdeas, domain.LifecycleEvent{
		Event:      domain.EventIdeaDeleted,
		IdeaID:     id,
		Ticker:     item.Ticker,
		PaperTrade: item.IsPaperTrade,
		Detail:     fmt.Sprintf("detached %d transaction(s)", detached),
	})
	return nil
}

// ToPaper executes a WATCHING idea as a paper BUY.
func (s *Lifecycle) ToPaper(ctx context.Context, id int64, fill domain.Fill) (IdeaResult, error) {
	return s.promote(ctx, id, fill, true)
}

// ToReal executes a WATCHING idea as a real BUY.
func (s *Lifecycle) ToReal(ctx context.Context, id int64, fill domain.Fill) (IdeaResult, error) {
	return s.promote(ctx, id, fill, false)
}

func (s *Lifecycle) promote(ctx context.Context, id int64, fill domain.Fill, paper bool) (IdeaResult, error) {
	op := "to real"
	if paper {
		op = "to paper"
	}
	if err := validateFill(fill); err != nil {
		return IdeaResult{}, fmt.Errorf("lifecycle: %s %d: %w", op, id, err)
	}

	unlock, err := acquire(ctx, s.locks, "idea:"+strconv.FormatInt(id, 10))
	if err != nil {
		return IdeaResult{}, fmt.Errorf("lifecycle: %s %d: %w", op, id, err)
	}
	defer unlock()

	var res IdeaResult
	err = s.store.Atomic(ctx, func(ctx context.Context, rs domain.RecordStore) error {
		item, err := rs.Ideas().GetByID(ctx, id)
		if err != nil {
			return domain.StoreErr("get idea", err)
		}
		if err := domain.CheckTransition(item.Status, domain.StatusExecuted); err != nil {
			return err
		}

		buy, err := recordBuy(ctx, rs.Transactions(), BuyInput{
			IsPaperTrade:  paper,
			UserID:        item.UserID,
			SourceID:      item.SourceID,
			WatchedItemID: &item.ID,
			Ticker:        item.Ticker,
			Fill:          fill,
		})
		if err != nil {
			return err
		}
		if err := rs.Ideas().SetStatus(ctx, id, item.Status, domain.StatusExecuted); err != nil {
			return domain.StoreErr("set status", err)
		}

		item, err = rs.Ideas().GetByID(ctx, id)
		if err != nil {
			return domain.StoreErr("get idea", err)
		}
		res = IdeaResult{Idea: item, Buy: &buy}
		return nil
	})
	if err != nil {
		return IdeaResult{}, fmt.Errorf("lifecycle: %s %d: %w", op, id, err)
	}

	s.logger.InfoContext(ctx, "lifecycle: idea executed",
		slog.Int64("idea_id", id),
		slog.Int64("transaction_id", res.Buy.ID),
		slog.String("ticker", res.Idea.Ticker),
		slog.Bool("paper", paper),
	)
	s.events.Emit(ctx, domain.ChannelIdeas, domain.LifecycleEvent{
		Event:         domain.EventIdeaExecuted,
		IdeaID:        id,
		TransactionID: res.Buy.ID,
		Ticker:        res.Idea.Ticker,
		PaperTrade:    paper,
	})
	return res, nil
}

// SellTransaction closes a BUY through the ledger.
func (s *Lifecycle) SellTransaction(ctx context.Context, txID int64) (domain.SaleResult, error) {
	return s.ledger.Sell(ctx, txID)
}

// nullIfBlank maps a missing or whitespace-only string to nil.
func nullIfBlank(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
