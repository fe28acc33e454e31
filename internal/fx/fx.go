// Package fx provides currency exchange rates for valuing positions.
package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/logger"
	"github.com/shopspring/decimal"
)

const (
	// DefaultTTL is how long a fetched rate is reused.
	DefaultTTL = time.Hour
	// DefaultUSDToIDR is used when no source answers and nothing is cached.
	DefaultUSDToIDR = 16000
)

// Source is one public rates endpoint.
type Source struct {
	Name string
	URL  string
	// Query builds the request parameters for a currency pair.
	Query func(from, to string) url.Values
	// Extract reads the rate from the decoded response.
	Extract func(body map[string]json.RawMessage, to string) (decimal.Decimal, bool)
}

// ExchangeRateHost queries api.exchangerate.host.
func ExchangeRateHost() Source {
	return Source{
		Name: "exchangerate.host",
		URL:  "https://api.exchangerate.host/latest",
		Query: func(from, to string) url.Values {
			return url.Values{"base": {from}, "symbols": {to}}
		},
		Extract: func(body map[string]json.RawMessage, to string) (decimal.Decimal, bool) {
			var success bool
			if err := json.Unmarshal(body["success"], &success); err != nil || !success {
				return decimal.Zero, false
			}
			return rateFrom(body, to)
		},
	}
}

// Frankfurter queries api.frankfurter.app.
func Frankfurter() Source {
	return Source{
		Name: "frankfurter.app",
		URL:  "https://api.frankfurter.app/latest",
		Query: func(from, to string) url.Values {
			return url.Values{"from": {from}, "to": {to}}
		},
		Extract: rateFrom,
	}
}

func rateFrom(body map[string]json.RawMessage, to string) (decimal.Decimal, bool) {
	var rates map[string]decimal.Decimal
	if err := json.Unmarshal(body["rates"], &rates); err != nil {
		return decimal.Zero, false
	}
	r, ok := rates[to]
	if !ok || !r.IsPositive() {
		return decimal.Zero, false
	}
	return r, true
}

type cached struct {
	rate    decimal.Decimal
	fetched time.Time
}

// Provider fetches rates from its sources in order and caches them.
// When every source fails it returns the last cached rate, then the fallback.
type Provider struct {
	client    *http.Client
	sources   []Source
	ttl       time.Duration
	fallbacks map[string]decimal.Decimal
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]cached
}

// NewProvider creates a provider using the public sources. usdToIDR overrides
// the USD/IDR fallback when positive.
func NewProvider(client *http.Client, usdToIDR decimal.Decimal) *Provider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if !usdToIDR.IsPositive() {
		usdToIDR = decimal.NewFromInt(DefaultUSDToIDR)
	}
	return &Provider{
		client:    client,
		sources:   []Source{ExchangeRateHost(), Frankfurter()},
		ttl:       DefaultTTL,
		fallbacks: map[string]decimal.Decimal{pair("USD", "IDR"): usdToIDR},
		now:       time.Now,
		cache:     make(map[string]cached),
	}
}

func pair(from, to string) string {
	return from + "/" + to
}

// Rate returns how many units of to one unit of from buys.
func (p *Provider) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	key := pair(from, to)
	log := logger.FromContext(ctx)

	p.mu.Lock()
	c, ok := p.cache[key]
	p.mu.Unlock()
	if ok && p.now().Sub(c.fetched) < p.ttl {
		return c.rate, nil
	}

	var errs []error
	for _, src := range p.sources {
		rate, err := p.fetch(ctx, src, from, to)
		if err != nil {
			log.Debug().Err(err).Str("source", src.Name).Msg("Rate source failed")
			errs = append(errs, err)
			continue
		}
		p.mu.Lock()
		p.cache[key] = cached{rate: rate, fetched: p.now()}
		p.mu.Unlock()
		log.Info().Str("source", src.Name).Str("pair", key).Str("rate", rate.String()).Msg("Fetched exchange rate")
		return rate, nil
	}

	if ok {
		log.Warn().Str("pair", key).Str("rate", c.rate.String()).Msg("Using cached exchange rate")
		return c.rate, nil
	}
	if fb, ok := p.fallbacks[key]; ok {
		log.Warn().Str("pair", key).Str("rate", fb.String()).Msg("Using fallback exchange rate")
		return fb, nil
	}
	return decimal.Zero, fmt.Errorf("Rate %s: %w", key, errors.Join(errs...))
}

func (p *Provider) fetch(ctx context.Context, src Source, from, to string) (decimal.Decimal, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", src.Name, err)
	}
	u.RawQuery = src.Query(from, to).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", src.Name, err)
	}
	req.Header.Set("User-Agent", "sheet-ledger/fx (Go)")

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%s: status %d", src.Name, resp.StatusCode)
	}
	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%s: decode: %w", src.Name, err)
	}
	rate, ok := src.Extract(body, to)
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: no %s rate in response", src.Name, to)
	}
	return rate, nil
}

// Static serves fixed rates.
type Static map[string]decimal.Decimal

// NewStatic returns a Static holding one rate.
func NewStatic(from, to string, rate decimal.Decimal) Static {
	return Static{pair(strings.ToUpper(from), strings.ToUpper(to)): rate}
}

// Rate implements the ledger rate source.
func (s Static) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := s[pair(from, to)]; ok {
		return r, nil
	}
	return decimal.Zero, fmt.Errorf("no static rate for %s", pair(from, to))
}
