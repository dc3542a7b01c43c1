package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is BUY or SELL.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return t == TransactionBuy || t == TransactionSell
}

// Transaction is a recorded buy or sell, paper or real.
type Transaction struct {
	ID                int64               `json:"id"`
	IsPaperTrade      bool                `json:"is_paper_trade"`
	UserID            int64               `json:"user_id"`
	SourceID          *int64              `json:"source_id"`
	WatchedItemID     *int64              `json:"watched_item_id"`
	TransactionDate   time.Time           `json:"transaction_date"`
	Ticker            string              `json:"ticker"`
	Type              TransactionType     `json:"transaction_type"`
	Quantity          decimal.Decimal     `json:"quantity"`
	Price             decimal.Decimal     `json:"price"`
	QuantityRemaining decimal.Decimal     `json:"quantity_remaining"`
	LimitLow          decimal.NullDecimal `json:"limit_low"`
	LimitHigh         decimal.NullDecimal `json:"limit_high"`
	Exchange          *string             `json:"exchange"`
	Time              *string             `json:"time"`
	CreatedAt         time.Time           `json:"created_date"`
	UpdatedAt         time.Time           `json:"updated_date"`
}

// Open reports whether a BUY still has quantity left to sell.
func (t Transaction) Open() bool {
	return t.Type == TransactionBuy && t.QuantityRemaining.IsPositive()
}

// CheckInvariants verifies the quantity bookkeeping rules of a transaction.
func (t Transaction) CheckInvariants() error {
	if !t.Type.Valid() {
		return Invalidf("unknown transaction type %q", t.Type)
	}
	if t.Ticker == "" {
		return Invalidf("ticker is required")
	}
	if !t.Quantity.IsPositive() {
		return Invalidf("quantity must be positive")
	}
	if !t.Price.IsPositive() {
		return Invalidf("price must be positive")
	}
	if t.QuantityRemaining.IsNegative() || t.QuantityRemaining.GreaterThan(t.Quantity) {
		return Invalidf("quantity_remaining must be between 0 and quantity")
	}
	if t.Type == TransactionSell && !t.QuantityRemaining.IsZero() {
		return Invalidf("a SELL must have zero quantity_remaining")
	}
	return nil
}

// TransactionPatch carries editable transaction fields. Type, idea link and
// paper flag are fixed once recorded.
type TransactionPatch struct {
	TransactionDate *time.Time
	Ticker          *string
	Quantity        *decimal.Decimal
	Price           *decimal.Decimal
	LimitLow        *decimal.NullDecimal
	LimitHigh       *decimal.NullDecimal
	Exchange        *string
	Time            *string
}

// Fill describes how an idea was (or is to be) filled when promoted.
type Fill struct {
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	TransactionDate time.Time
	LimitLow        decimal.NullDecimal
	LimitHigh       decimal.NullDecimal
	Exchange        *string
	Time            *string
}

// SaleResult identifies the two rows touched by a sale.
type SaleResult struct {
	BuyID  int64           `json:"buy_id"`
	SellID int64           `json:"sell_id"`
	Price  decimal.Decimal `json:"price"`
}
