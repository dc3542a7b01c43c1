package oracle

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// StaticOracle answers from a fixed price table keyed by upper-case ticker.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticOracle parses a ticker -> decimal string table.
func NewStaticOracle(table map[string]string) (*StaticOracle, error) {
	o := &StaticOracle{prices: make(map[string]decimal.Decimal, len(table))}
	for ticker, raw := range table {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("oracle: static price %s: %w", ticker, err)
		}
		o.prices[strings.ToUpper(ticker)] = p
	}
	return o, nil
}

// Set replaces the price for ticker.
func (o *StaticOracle) Set(ticker string, price decimal.Decimal) {
	o.mu.Lock()
	o.prices[strings.ToUpper(ticker)] = price
	o.mu.Unlock()
}

// Price implements domain.PriceOracle.
func (o *StaticOracle) Price(_ context.Context, ticker string) (decimal.Decimal, error) {
	o.mu.RLock()
	p, ok := o.prices[strings.ToUpper(ticker)]
	o.mu.RUnlock()
	if !ok {
		return decimal.Zero, unavailable(ticker, fmt.Errorf("no static quote"))
	}
	if !p.IsPositive() {
		return decimal.Zero, unavailable(ticker, fmt.Errorf("non-positive price %s", p))
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.PriceOracle = (*StaticOracle)(nil)
