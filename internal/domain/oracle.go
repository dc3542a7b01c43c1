package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceOracle resolves the current price of a ticker. Implementations
// return an error wrapping ErrPriceUnavailable when no usable positive
// price exists.
type PriceOracle interface {
	Price(ctx context.Context, ticker string) (decimal.Decimal, error)
}
