package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes at
// "quote:{TICKER}" with fields "price" (decimal string) and "ts" (Unix
// nanoseconds). Entries expire after ttl so stale quotes fall back to the
// upstream oracle.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A zero ttl keeps entries forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(ticker string) string {
	return "quote:" + ticker
}

// SetPrice stores the latest price and its timestamp.
func (pc *PriceCache) SetPrice(ctx context.Context, ticker string, price decimal.Decimal, ts time.Time) error {
	key := quoteKey(ticker)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", ticker, err)
	}
	return nil
}

// GetPrice returns the cached price, or domain.ErrNotFound on a miss.
func (pc *PriceCache) GetPrice(ctx context.Context, ticker string) (decimal.Decimal, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, quoteKey(ticker)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", ticker, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %s: %w", ticker, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", ticker, err)
	}
	return price, time.Unix(0, tsNano).UTC(), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
