// Package provider defines the capability every external price source
// must implement. Providers are thin I/O wrappers: they resolve their own
// credentials, talk to one API, and return normalized records. Gap
// detection, caching and fallback live in the orchestrator.
package provider

import (
	"context"
	"time"

	"github.com/nerdymil30/market-data-api/types"
)

//go:generate mockgen -package=marketdata -destination=../../marketdata/mock_provider_test.go -source=provider.go Provider

type Provider interface {
	// Name returns the provider identifier used for cache attribution,
	// e.g. "barchart" or "tiingo".
	Name() string

	// IsConfigured reports whether the provider's credentials are present
	// locally. It never makes a network call.
	IsConfigured() bool

	// FetchPrices returns daily records for the inclusive date range.
	// Fewer rows than calendar days is expected: non-trading days yield
	// no rows and an empty result is not an error.
	FetchPrices(ctx context.Context, ticker string, start, end time.Time, freq types.Frequency) ([]types.PriceRecord, error)

	// ValidateCredentials makes one lightweight API call to check that
	// the stored credentials still work.
	ValidateCredentials(ctx context.Context) (bool, error)
}
