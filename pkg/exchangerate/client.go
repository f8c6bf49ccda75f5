// Package exchangerate fetches and caches foreign-exchange rates.
package exchangerate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// ErrRateUnavailable is returned when a rate cannot be fetched or parsed.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// DefaultBaseURL is the public rate API.
const DefaultBaseURL = "https://api.exchangerate.host"

// Rates maps a currency symbol to the amount of it one base unit buys.
type Rates map[string]decimal.Decimal

// Cache stores rate lookups keyed by base and symbols.
type Cache interface {
	Get(ctx context.Context, key string) (Rates, bool)
	Set(ctx context.Context, key string, rates Rates)
}

// Client converts between currencies using a remote rate API.
type Client struct {
	baseURL string
	http    *http.Client
	cache   Cache
	group   singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBaseURL points the client at another rate API host.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// NewClient creates a rate client. timeout bounds each outbound fetch.
func NewClient(cache Cache, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: timeout},
		cache:   cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRate returns how many target units one base unit buys.
func (c *Client) GetRate(ctx context.Context, base, target string) (decimal.Decimal, error) {
	base, target = normalize(base), normalize(target)
	if base == target {
		return decimal.NewFromInt(1), nil
	}

	rates, err := c.GetRates(ctx, base, target)
	if err != nil {
		return decimal.Zero, err
	}
	rate, ok := rates[target]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrRateUnavailable, "no rate for %s->%s", base, target)
	}
	return rate, nil
}

// GetRates returns rates for symbols against base, from cache when fresh.
func (c *Client) GetRates(ctx context.Context, base string, symbols ...string) (Rates, error) {
	base = normalize(base)
	syms := make([]string, 0, len(symbols))
	for _, s := range symbols {
		syms = append(syms, normalize(s))
	}
	sort.Strings(syms)
	key := base + ":" + strings.Join(syms, ",")

	if rates, ok := c.cache.Get(ctx, key); ok {
		return rates, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		rates, err := c.fetch(ctx, base, syms)
		if err != nil {
			return nil, err
		}
		c.cache.Set(ctx, key, rates)
		return rates, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Rates), nil
}

type latestResponse struct {
	Rates map[string]json.Number `json:"rates"`
}

func (c *Client) fetch(ctx context.Context, base string, symbols []string) (Rates, error) {
	q := url.Values{}
	q.Set("base", base)
	q.Set("symbols", strings.Join(symbols, ","))
	endpoint := c.baseURL + "/latest?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build rate request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Errorf("%w: read body: %v", ErrRateUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("%w: rate API status %d", ErrRateUnavailable, resp.StatusCode)
	}

	var payload latestResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Errorf("%w: malformed body: %v", ErrRateUnavailable, err)
	}
	if len(payload.Rates) == 0 {
		return nil, errors.Errorf("%w: empty rates", ErrRateUnavailable)
	}

	rates := make(Rates, len(payload.Rates))
	for sym, n := range payload.Rates {
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return nil, errors.Errorf("%w: rate %s: %v", ErrRateUnavailable, sym, err)
		}
		rates[normalize(sym)] = d
	}
	return rates, nil
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
