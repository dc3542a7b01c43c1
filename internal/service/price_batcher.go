package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// defaultPriceConcurrency bounds in-flight oracle calls per batch.
const defaultPriceConcurrency = 8

// PriceBatcher resolves quotes for a set of tickers with one oracle call
// per distinct ticker.
type PriceBatcher struct {
	oracle      domain.PriceOracle
	concurrency int
	logger      *slog.Logger
}

// NewPriceBatcher creates a PriceBatcher. concurrency <= 0 uses the default.
func NewPriceBatcher(oracle domain.PriceOracle, concurrency int, logger *slog.Logger) *PriceBatcher {
	if concurrency <= 0 {
		concurrency = defaultPriceConcurrency
	}
	return &PriceBatcher{oracle: oracle, concurrency: concurrency, logger: logger}
}

// Prices returns the quote for every ticker the oracle could price. Tickers
// without a price are absent from the map; a failed lookup never fails the
// batch.
func (b *PriceBatcher) Prices(ctx context.Context, tickers []string) map[string]decimal.Decimal {
	distinct := uniqueTickers(tickers)
	out := make(map[string]decimal.Decimal, len(distinct))
	if len(distinct) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(b.concurrency)
	for _, ticker := range distinct {
		g.Go(func() error {
			p, err := b.oracle.Price(ctx, ticker)
			if err != nil {
				b.logger.DebugContext(ctx, "price_batcher: no price",
					slog.String("ticker", ticker),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if !p.IsPositive() {
				return nil
			}
			mu.Lock()
			out[ticker] = p
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// uniqueTickers upper-cases, trims and dedupes tickers, keeping first-seen
// order and dropping blanks.
func uniqueTickers(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = normalizeTicker(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func normalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
