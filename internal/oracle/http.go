// Package oracle provides domain.PriceOracle implementations: an HTTP quote
// client, a Redis-backed caching decorator and a fixed price table.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// TickerPlaceholder is replaced with the query-escaped ticker in the URL
// template.
const TickerPlaceholder = "{ticker}"

// HTTPConfig configures an HTTPOracle.
type HTTPConfig struct {
	// URLTemplate is the quote endpoint, e.g.
	// "https://quotes.example.com/v1/last?symbol={ticker}".
	URLTemplate string
	// PricePath is a JSONPath expression selecting the price in the
	// response document, e.g. "$.quote.last".
	PricePath    string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration

	// Limiter, when set, caps upstream calls to RateLimit per RateWindow
	// across every process sharing the limiter.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration
}

// HTTPOracle fetches quotes from a JSON HTTP endpoint.
type HTTPOracle struct {
	cfg        HTTPConfig
	httpClient *http.Client
}

// NewHTTPOracle creates an HTTPOracle.
func NewHTTPOracle(cfg HTTPConfig) (*HTTPOracle, error) {
	if cfg.URLTemplate == "" {
		return nil, fmt.Errorf("oracle: url template is required")
	}
	if cfg.PricePath == "" {
		cfg.PricePath = "$.price"
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Second
	}
	return &HTTPOracle{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Price returns the latest positive quote for ticker. Transport failures,
// non-2xx responses, missing fields and non-positive values all surface as
// domain.ErrPriceUnavailable.
func (o *HTTPOracle) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if o.cfg.Limiter != nil && o.cfg.RateLimit > 0 {
		ok, err := o.cfg.Limiter.Allow(ctx, "oracle:http", o.cfg.RateLimit, o.cfg.RateWindow)
		if err != nil {
			return decimal.Zero, unavailable(ticker, err)
		}
		if !ok {
			return decimal.Zero, unavailable(ticker, fmt.Errorf("rate limited"))
		}
	}

	addr := strings.ReplaceAll(o.cfg.URLTemplate, TickerPlaceholder, url.QueryEscape(ticker))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return decimal.Zero, unavailable(ticker, err)
	}
	req.Header.Set("Accept", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set(o.cfg.APIKeyHeader, o.cfg.APIKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, unavailable(ticker, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, unavailable(ticker, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Zero, unavailable(ticker, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	}

	price, err := extractPrice(body, o.cfg.PricePath)
	if err != nil {
		return decimal.Zero, unavailable(ticker, err)
	}
	return price, nil
}

// extractPrice evaluates path against the JSON document and converts the
// selected value to a positive decimal.
func extractPrice(body []byte, path string) (decimal.Decimal, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return decimal.Zero, fmt.Errorf("decode quote: %w", err)
	}

	val, err := jsonpath.Get(path, doc)
	if err != nil {
		return decimal.Zero, fmt.Errorf("select %q: %w", path, err)
	}
	// Wildcard and slice paths yield a list; keep the first match.
	if list, ok := val.([]any); ok {
		if len(list) == 0 {
			return decimal.Zero, fmt.Errorf("select %q: no match", path)
		}
		val = list[0]
	}

	var price decimal.Decimal
	switch v := val.(type) {
	case json.Number:
		price, err = decimal.NewFromString(v.String())
	case string:
		price, err = decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		price = decimal.NewFromFloat(v)
	default:
		return decimal.Zero, fmt.Errorf("select %q: not a number: %v", path, val)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("select %q: %w", path, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s", price)
	}
	return price, nil
}

func unavailable(ticker string, cause error) error {
	return fmt.Errorf("oracle: %s: %w: %w", ticker, domain.ErrPriceUnavailable, cause)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Compile-time interface check.
var _ domain.PriceOracle = (*HTTPOracle)(nil)
