// Package marketdata is the public entry point of the library. It wires
// the persistent price cache, the gap detector, the provider rate
// limiters and the providers themselves into one cache-first fetch
// service.
package marketdata

import (
	"context"
	"time"

	"github.com/nerdymil30/market-data-api/internal/config"
	"github.com/nerdymil30/market-data-api/internal/httpx"
	"github.com/nerdymil30/market-data-api/internal/provider"
	"github.com/nerdymil30/market-data-api/internal/provider/barchart"
	"github.com/nerdymil30/market-data-api/internal/provider/ratelimit"
	"github.com/nerdymil30/market-data-api/internal/provider/tiingo"
	"github.com/nerdymil30/market-data-api/internal/store"
	"github.com/nerdymil30/market-data-api/types"
)

// Request describes one GetPrices call. Zero values for Frequency and
// Provider mean daily and AUTO.
type Request struct {
	Ticker    string
	Start     time.Time
	End       time.Time
	Frequency types.Frequency
	Provider  types.Selector
	// Refresh forces a full re-fetch of the requested range. Fetched
	// rows still write through to the cache; cached rows outside the
	// range stay untouched.
	Refresh bool
}

// Service owns the cache connection for its lifetime. Close releases it.
type Service struct {
	store     *store.Store
	providers map[string]provider.Provider
	limiters  map[string]ratelimit.Limiter
}

// New builds a Service from configuration: opens (or creates) the cache
// database and constructs the enabled providers with their limiters.
func New(cfg config.Config) (*Service, error) {
	st, err := store.Open(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}

	hc := httpx.New(time.Duration(cfg.HTTP.TimeoutSec) * time.Second)

	providers := make(map[string]provider.Provider)
	limiters := make(map[string]ratelimit.Limiter)

	if cfg.Barchart.Enabled {
		providers[barchart.Name] = barchart.New(barchart.Config{
			Endpoint:       cfg.Barchart.Endpoint,
			CookiesFile:    cfg.Barchart.CookiesFile,
			MaxRetries:     uint(cfg.HTTP.MaxRetries),
			RetryBaseDelay: time.Duration(cfg.HTTP.RetryBaseDelayMs) * time.Millisecond,
			RetryMaxDelay:  time.Duration(cfg.HTTP.RetryMaxDelayMs) * time.Millisecond,
		}, hc)
		limiters[barchart.Name] = &ratelimit.Pacer{
			Interval:   time.Duration(cfg.Barchart.TickerIntervalSec) * time.Second,
			Pause:      time.Duration(cfg.Barchart.PauseSec) * time.Second,
			PauseEvery: cfg.Barchart.PauseEveryTickers,
		}
	}
	if cfg.Tiingo.Enabled {
		providers[tiingo.Name] = tiingo.New(tiingo.Config{
			BaseURL:         cfg.Tiingo.BaseURL,
			CredentialsFile: cfg.Tiingo.CredentialsFile,
			MaxRetries:      uint(cfg.HTTP.MaxRetries),
			RetryBaseDelay:  time.Duration(cfg.HTTP.RetryBaseDelayMs) * time.Millisecond,
			RetryMaxDelay:   time.Duration(cfg.HTTP.RetryMaxDelayMs) * time.Millisecond,
		}, hc)
		limiters[tiingo.Name] = &ratelimit.Quota{
			Provider:    tiingo.Name,
			PerHour:     cfg.Tiingo.RequestsPerHour,
			PerDay:      cfg.Tiingo.RequestsPerDay,
			MinInterval: time.Duration(cfg.Tiingo.MinIntervalMillis) * time.Millisecond,
		}
	}

	return newService(st, providers, limiters), nil
}

func newService(st *store.Store, providers map[string]provider.Provider, limiters map[string]ratelimit.Limiter) *Service {
	return &Service{store: st, providers: providers, limiters: limiters}
}

// Stats reports cache totals.
func (s *Service) Stats(ctx context.Context) (*types.CacheStats, error) {
	return s.store.Stats(ctx)
}

// QuotaStatus is the remaining request allowance for one provider.
type QuotaStatus struct {
	Hour int `json:"hour"`
	Day  int `json:"day"`
}

// QuotaRemaining reports how many requests each quota-limited provider
// may still make in its rolling windows. Pacing-only providers have no
// ceiling and are absent from the result.
func (s *Service) QuotaRemaining() map[string]QuotaStatus {
	out := make(map[string]QuotaStatus)
	for name, lim := range s.limiters {
		if q, ok := lim.(*ratelimit.Quota); ok {
			hour, day := q.Remaining()
			out[name] = QuotaStatus{Hour: hour, Day: day}
		}
	}
	return out
}

// Clear deletes cached rows; empty arguments widen the match, both empty
// clears the whole cache. Returns the number of rows deleted.
func (s *Service) Clear(ctx context.Context, ticker, providerName string) (int64, error) {
	return s.store.Clear(ctx, ticker, providerName)
}

// ValidateCredentials probes each configured provider with one
// lightweight call and reports which credentials work.
func (s *Service) ValidateCredentials(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(s.providers))
	for name, p := range s.providers {
		if !p.IsConfigured() {
			out[name] = false
			continue
		}
		ok, err := p.ValidateCredentials(ctx)
		out[name] = err == nil && ok
	}
	return out
}

// Close releases the cache connection.
func (s *Service) Close() error {
	return s.store.Close()
}
