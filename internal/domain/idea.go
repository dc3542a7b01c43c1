package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultUserID is the account every record belongs to on a single-ledger
// install.
const DefaultUserID int64 = 1

// WatchedItem is a trade idea logged from a piece of advice.
type WatchedItem struct {
	ID             int64               `json:"id"`
	IsPaperTrade   bool                `json:"is_paper_trade"`
	UserID         int64               `json:"user_id"`
	SourceID       *int64              `json:"source_id"`
	StrategyID     *int64              `json:"strategy_id"`
	Ticker         string              `json:"ticker"`
	OrderType      *string             `json:"order_type"`
	BuyPriceLow    decimal.NullDecimal `json:"buy_price_low"`
	BuyPriceHigh   decimal.NullDecimal `json:"buy_price_high"`
	TakeProfitLow  decimal.NullDecimal `json:"take_profit_low"`
	TakeProfitHigh decimal.NullDecimal `json:"take_profit_high"`
	EscapePrice    decimal.NullDecimal `json:"escape_price"`
	Status         IdeaStatus          `json:"status"`
	Notes          *string             `json:"notes"`
	CreatedAt      time.Time           `json:"created_date"`
	UpdatedAt      time.Time           `json:"updated_date"`
}

// IdeaPatch carries the user-editable fields of a WatchedItem. A nil field
// is left untouched. Status is deliberately absent.
type IdeaPatch struct {
	Ticker         *string
	StrategyID     *int64
	OrderType      *string
	BuyPriceLow    *decimal.NullDecimal
	BuyPriceHigh   *decimal.NullDecimal
	TakeProfitLow  *decimal.NullDecimal
	TakeProfitHigh *decimal.NullDecimal
	EscapePrice    *decimal.NullDecimal
	Notes          *string
}

// Empty reports whether the patch changes nothing.
func (p IdeaPatch) Empty() bool {
	return p.Ticker == nil && p.StrategyID == nil && p.OrderType == nil &&
		p.BuyPriceLow == nil && p.BuyPriceHigh == nil &&
		p.TakeProfitLow == nil && p.TakeProfitHigh == nil &&
		p.EscapePrice == nil && p.Notes == nil
}

// Apply copies the set fields of p onto item.
func (p IdeaPatch) Apply(item *WatchedItem) {
	if p.Ticker != nil {
		item.Ticker = *p.Ticker
	}
	if p.StrategyID != nil {
		item.StrategyID = p.StrategyID
	}
	if p.OrderType != nil {
		item.OrderType = p.OrderType
	}
	if p.BuyPriceLow != nil {
		item.BuyPriceLow = *p.BuyPriceLow
	}
	if p.BuyPriceHigh != nil {
		item.BuyPriceHigh = *p.BuyPriceHigh
	}
	if p.TakeProfitLow != nil {
		item.TakeProfitLow = *p.TakeProfitLow
	}
	if p.TakeProfitHigh != nil {
		item.TakeProfitHigh = *p.TakeProfitHigh
	}
	if p.EscapePrice != nil {
		item.EscapePrice = *p.EscapePrice
	}
	if p.Notes != nil {
		item.Notes = p.Notes
	}
}

// IdeaWithPrice is an open idea enriched with the latest quote for its
// ticker. Price is null when the oracle had nothing.
type IdeaWithPrice struct {
	WatchedItem
	CurrentPrice decimal.NullDecimal `json:"current_price"`
}
