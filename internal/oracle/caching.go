package oracle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// CachingOracle serves quotes from a PriceCache while they are younger than
// maxAge and otherwise asks the wrapped oracle. Concurrent misses for one
// ticker share a single upstream call.
type CachingOracle struct {
	next   domain.PriceOracle
	cache  domain.PriceCache
	maxAge time.Duration
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewCachingOracle wraps next with cache.
func NewCachingOracle(next domain.PriceOracle, cache domain.PriceCache, maxAge time.Duration, logger *slog.Logger) *CachingOracle {
	return &CachingOracle{
		next:   next,
		cache:  cache,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// Price implements domain.PriceOracle.
func (o *CachingOracle) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	price, ts, err := o.cache.GetPrice(ctx, ticker)
	switch {
	case err == nil && o.now().Sub(ts) <= o.maxAge:
		return price, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		o.logger.WarnContext(ctx, "oracle: price cache read failed",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
	}

	v, err, _ := o.group.Do(ticker, func() (any, error) {
		p, err := o.next.Price(ctx, ticker)
		if err != nil {
			return decimal.Zero, err
		}
		if err := o.cache.SetPrice(ctx, ticker, p, o.now()); err != nil {
			o.logger.WarnContext(ctx, "oracle: price cache write failed",
				slog.String("ticker", ticker),
				slog.String("error", err.Error()),
			)
		}
		return p, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// Compile-time interface check.
var _ domain.PriceOracle = (*CachingOracle)(nil)
