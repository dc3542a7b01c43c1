package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// lockTTL bounds how long a promotion or sale may hold its id lock.
const lockTTL = 30 * time.Second

// BuyInput describes a BUY to record.
type BuyInput struct {
	IsPaperTrade  bool
	UserID        int64
	SourceID      *int64
	WatchedItemID *int64
	Ticker        string
	Fill          domain.Fill
}

// BySourceOpts narrows GetBySource.
type BySourceOpts struct {
	PaperOnly bool
}

// Ledger creates and closes BUY/SELL pairs. It never touches idea status.
type Ledger struct {
	store  domain.RecordStore
	oracle domain.PriceOracle
	locks  domain.LockManager
	events *Events
	logger *slog.Logger
}

// NewLedger creates a Ledger. locks and events may be nil.
func NewLedger(
	store domain.RecordStore,
	oracle domain.PriceOracle,
	locks domain.LockManager,
	events *Events,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		store:  store,
		oracle: oracle,
		locks:  locks,
		events: events,
		logger: logger,
	}
}

// RecordBuy validates in and inserts a BUY with quantity_remaining equal to
// its quantity.
func (l *Ledger) RecordBuy(ctx context.Context, in BuyInput) (domain.Transaction, error) {
	tx, err := recordBuy(ctx, l.store.Transactions(), in)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("ledger: record buy: %w", err)
	}

	l.logger.InfoContext(ctx, "ledger: buy recorded",
		slog.Int64("transaction_id", tx.ID),
		slog.String("ticker", tx.Ticker),
		slog.Bool("paper", tx.IsPaperTrade),
	)
	l.events.Emit(ctx, domain.ChannelTransactions, domain.LifecycleEvent{
		Event:         domain.EventBuyRecorded,
		TransactionID: tx.ID,
		Ticker:        tx.Ticker,
		PaperTrade:    tx.IsPaperTrade,
	})
	return tx, nil
}

// recordBuy inserts a BUY through txs so callers can run it inside an
// atomic unit.
func recordBuy(ctx context.Context, txs domain.TransactionStore, in BuyInput) (domain.Transaction, error) {
	ticker := normalizeTicker(in.Ticker)
	if ticker == "" {
		return domain.Transaction{}, domain.Invalidf("ticker is required")
	}
	if err := validateFill(in.Fill); err != nil {
		return domain.Transaction{}, err
	}
	userID := in.UserID
	if userID == 0 {
		userID = domain.DefaultUserID
	}

	tx := domain.Transaction{
		IsPaperTrade:      in.IsPaperTrade,
		UserID:            userID,
		SourceID:          in.SourceID,
		WatchedItemID:     in.WatchedItemID,
		TransactionDate:   in.Fill.TransactionDate,
		Ticker:            ticker,
		Type:              domain.TransactionBuy,
		Quantity:          in.Fill.Quantity,
		Price:             in.Fill.Price,
		QuantityRemaining: in.Fill.Quantity,
		LimitLow:          in.Fill.LimitLow,
		LimitHigh:         in.Fill.LimitHigh,
		Exchange:          nullIfBlank(in.Fill.Exchange),
		Time:              nullIfBlank(in.Fill.Time),
	}
	if err := txs.Create(ctx, &tx); err != nil {
		return domain.Transaction{}, domain.StoreErr("create transaction", err)
	}
	return tx, nil
}

func validateFill(f domain.Fill) error {
	if !f.Quantity.IsPositive() {
		return domain.Invalidf("quantity must be a positive number")
	}
	if !f.Price.IsPositive() {
		return domain.Invalidf("price must be a positive number")
	}
	return nil
}

// Sell liquidates the whole remaining quantity of a BUY at the oracle
// price. The oracle is asked before anything is written, so an unavailable
// price leaves the BUY untouched.
func (l *Ledger) Sell(ctx context.Context, txID int64) (domain.SaleResult, error) {
	unlock, err := l.lock(ctx, "tx:"+strconv.FormatInt(txID, 10))
	if err != nil {
		return domain.SaleResult{}, fmt.Errorf("ledger: sell %d: %w", txID, err)
	}
	defer unlock()

	buy, err := l.store.Transactions().GetByID(ctx, txID)
	if err != nil {
		return domain.SaleResult{}, fmt.Errorf("ledger: sell %d: %w", txID, domain.StoreErr("get transaction", err))
	}
	if err := checkSellable(buy); err != nil {
		return domain.SaleResult{}, fmt.Errorf("ledger: sell %d: %w", txID, err)
	}

	price, err := l.oracle.Price(ctx, buy.Ticker)
	if err != nil {
		if !errors.Is(err, domain.ErrPriceUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrPriceUnavailable, err)
		}
		return domain.SaleResult{}, fmt.Errorf("ledger: sell %d: %w", txID, err)
	}
	if !price.IsPositive() {
		return domain.SaleResult{}, fmt.Errorf("ledger: sell %d: %w: non-positive price %s", txID, domain.ErrPriceUnavailable, price)
	}

	var res domain.SaleResult
	err = l.store.Atomic(ctx, func(ctx context.Context, rs domain.RecordStore) error {
		cur, err := rs.Transactions().GetByID(ctx, txID)
		if err != nil {
			return domain.StoreErr("get transaction", err)
		}
		if err := checkSellable(cur); err != nil {
			return err
		}

		sell := domain.Transaction{
			IsPaperTrade:      cur.IsPaperTrade,
			UserID:            cur.UserID,
			SourceID:          cur.SourceID,
			WatchedItemID:     cur.WatchedItemID,
			Ticker:            cur.Ticker,
			Type:              domain.TransactionSell,
			Quantity:          cur.Quantity,
			Price:             price,
			QuantityRemaining: decimal.Zero,
		}
		if err := rs.Transactions().Create(ctx, &sell); err != nil {
			return domain.StoreErr("create sell", err)
		}

		if err := rs.Transactions().CloseBuy(ctx, cur.ID); err != nil {
			return domain.StoreErr("close buy", err)
		}
		res = domain.SaleResult{BuyID: cur.ID, SellID: sell.ID, Price: price}
		return nil
	})
	if err != nil {
		return domain.SaleResult{}, fmt.Errorf("ledger: sell %d: %w", txID, err)
	}

	l.logger.InfoContext(ctx, "ledger: position sold",
		slog.Int64("buy_id", res.BuyID),
		slog.Int64("sell_id", res.SellID),
		slog.String("ticker", buy.Ticker),
		slog.String("price", price.String()),
	)
	l.events.Emit(ctx, domain.ChannelTransactions, domain.LifecycleEvent{
		Event:         domain.EventPositionSold,
		IdeaID:        derefID(buy.WatchedItemID),
		TransactionID: res.BuyID,
		Ticker:        buy.Ticker,
		PaperTrade:    buy.IsPaperTrade,
		Detail:        "sold at " + price.String(),
	})
	return res, nil
}

// checkSellable rejects SELL rows and BUYs that are already closed.
func checkSellable(tx domain.Transaction) error {
	if tx.Type != domain.TransactionBuy {
		return domain.Invalidf("transaction %d is a %s, only a BUY can be sold", tx.ID, tx.Type)
	}
	if !tx.Open() {
		return fmt.Errorf("%w: transaction %d has nothing left to sell", domain.ErrInvalidTransition, tx.ID)
	}
	return nil
}

// GetByTicker lists every transaction for the given tickers.
func (l *Ledger) GetByTicker(ctx context.Context, tickers []string) ([]domain.Transaction, error) {
	norm := uniqueTickers(tickers)
	if len(norm) == 0 {
		return nil, fmt.Errorf("ledger: get by ticker: %w", domain.Invalidf("at least one ticker is required"))
	}
	return l.List(ctx, domain.TransactionFilter{Tickers: norm})
}

// GetBySource lists transactions attributed to a source.
func (l *Ledger) GetBySource(ctx context.Context, sourceID int64, opts BySourceOpts) ([]domain.Transaction, error) {
	return l.List(ctx, domain.TransactionFilter{SourceID: &sourceID, PaperOnly: opts.PaperOnly})
}

// ListPaper lists every paper transaction.
func (l *Ledger) ListPaper(ctx context.Context) ([]domain.Transaction, error) {
	return l.List(ctx, domain.TransactionFilter{PaperOnly: true})
}

// List runs a filtered scan. Tickers match case-insensitively.
func (l *Ledger) List(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if len(filter.Tickers) > 0 {
		filter.Tickers = uniqueTickers(filter.Tickers)
	}
	txs, err := l.store.Transactions().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", domain.StoreErr("list transactions", err))
	}
	return txs, nil
}

// Get returns one transaction.
func (l *Ledger) Get(ctx context.Context, id int64) (domain.Transaction, error) {
	tx, err := l.store.Transactions().GetByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("ledger: get %d: %w", id, domain.StoreErr("get transaction", err))
	}
	return tx, nil
}

// Update applies patch to a transaction. Quantity edits on a BUY are only
// allowed while nothing has been sold; an untouched BUY keeps
// quantity_remaining equal to its quantity.
func (l *Ledger) Update(ctx context.Context, id int64, patch domain.TransactionPatch) (domain.Transaction, error) {
	var out domain.Transaction
	err := l.store.Atomic(ctx, func(ctx context.Context, rs domain.RecordStore) error {
		tx, err := rs.Transactions().GetByID(ctx, id)
		if err != nil {
			return domain.StoreErr("get transaction", err)
		}
		untouched := tx.Type == domain.TransactionBuy && tx.QuantityRemaining.Equal(tx.Quantity)

		if patch.TransactionDate != nil {
			tx.TransactionDate = *patch.TransactionDate
		}
		if patch.Ticker != nil {
			tx.Ticker = normalizeTicker(*patch.Ticker)
		}
		if patch.Quantity != nil && !patch.Quantity.Equal(tx.Quantity) {
			if tx.Type == domain.TransactionBuy && !untouched {
				return fmt.Errorf("%w: quantity of a partly or fully sold BUY cannot change", domain.ErrInvalidTransition)
			}
			tx.Quantity = *patch.Quantity
			if untouched {
				tx.QuantityRemaining = tx.Quantity
			}
		}
		if patch.Price != nil {
			tx.Price = *patch.Price
		}
		if patch.LimitLow != nil {
			tx.LimitLow = *patch.LimitLow
		}
		if patch.LimitHigh != nil {
			tx.LimitHigh = *patch.LimitHigh
		}
		if patch.Exchange != nil {
			tx.Exchange = nullIfBlank(patch.Exchange)
		}
		if patch.Time != nil {
			tx.Time = nullIfBlank(patch.Time)
		}

		if err := tx.CheckInvariants(); err != nil {
			return err
		}
		if err := rs.Transactions().Update(ctx, tx); err != nil {
			return domain.StoreErr("update transaction", err)
		}
		out = tx
		return nil
	})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("ledger: update %d: %w", id, err)
	}

	l.events.Emit(ctx, domain.ChannelTransactions, domain.LifecycleEvent{
		Event:         domain.EventTxUpdated,
		TransactionID: out.ID,
		Ticker:        out.Ticker,
		PaperTrade:    out.IsPaperTrade,
	})
	return out, nil
}

// Delete removes a transaction.
func (l *Ledger) Delete(ctx context.Context, id int64) error {
	tx, err := l.store.Transactions().GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ledger: delete %d: %w", id, domain.StoreErr("get transaction", err))
	}
	if err := l.store.Transactions().Delete(ctx, id); err != nil {
		return fmt.Errorf("ledger: delete %d: %w", id, domain.StoreErr("delete transaction", err))
	}

	l.events.Emit(ctx, domain.ChannelTransactions, domain.LifecycleEvent{
		Event:         domain.EventTxDeleted,
		TransactionID: id,
		Ticker:        tx.Ticker,
		PaperTrade:    tx.IsPaperTrade,
	})
	return nil
}

// lock takes the distributed lock for key when a LockManager is wired.
func (l *Ledger) lock(ctx context.Context, key string) (func(), error) {
	return acquire(ctx, l.locks, key)
}

func acquire(ctx context.Context, locks domain.LockManager, key string) (func(), error) {
	if locks == nil {
		return func() {}, nil
	}
	return locks.Acquire(ctx, key, lockTTL)
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
