package marketdata

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/nerdymil30/market-data-api/internal/gaps"
	"github.com/nerdymil30/market-data-api/types"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9.\-]{1,10}$`)

// GetPrices returns daily prices for the requested range, serving from
// the cache where possible and filling gaps from providers. Fetched rows
// are written back before the final read, so the returned records always
// reflect cache contents.
func (s *Service) GetPrices(ctx context.Context, req Request) (*types.PriceData, error) {
	ticker, freq, selector, rng, err := validate(req)
	if err != nil {
		return nil, err
	}

	// Reads use the wildcard under AUTO: data from any provider counts
	// as coverage. Writes always attribute the concrete provider.
	readProvider := ""
	if selector != types.SelectorAuto {
		readProvider = string(selector)
	}

	var missing []types.DateRange
	if req.Refresh {
		missing = []types.DateRange{rng}
	} else {
		covered, err := s.store.Coverage(ctx, ticker, freq, readProvider)
		if err != nil {
			return nil, err
		}
		missing = gaps.Missing(covered, rng)
	}

	providerUsed := ""
	fromAPI := 0
	for _, gap := range missing {
		records, name, err := s.fetchGap(ctx, ticker, gap, freq, selector)
		if err != nil {
			return nil, err
		}
		providerUsed = name
		fromAPI += len(records)
		// One atomic upsert per gap.
		if _, err := s.store.Upsert(ctx, ticker, freq, name, records); err != nil {
			return nil, err
		}
	}

	records, err := s.store.QueryRange(ctx, ticker, freq, readProvider, rng)
	if err != nil {
		return nil, err
	}

	if providerUsed == "" {
		providerUsed = servedFrom(selector, records)
	}

	fromCache := len(records) - fromAPI
	if fromCache < 0 {
		// Refresh re-fetched rows that were already cached; everything
		// returned came from the API this call.
		fromCache = 0
		fromAPI = len(records)
	}

	return &types.PriceData{
		Records:   records,
		Ticker:    ticker,
		Provider:  providerUsed,
		FromCache: fromCache,
		FromAPI:   fromAPI,
		StartDate: rng.Start,
		EndDate:   rng.End,
	}, nil
}

// fetchGap runs the provider decision table for one gap: explicit
// selectors call that provider only and propagate its failure; AUTO
// tries Barchart and falls back to Tiingo on configuration or provider
// failures, propagating the second failure if both break.
func (s *Service) fetchGap(ctx context.Context, ticker string, gap types.DateRange, freq types.Frequency, selector types.Selector) ([]types.PriceRecord, string, error) {
	if selector != types.SelectorAuto {
		records, err := s.callProvider(ctx, string(selector), ticker, gap, freq)
		return records, string(selector), err
	}

	records, err := s.callProvider(ctx, string(types.SelectorBarchart), ticker, gap, freq)
	if err == nil {
		return records, string(types.SelectorBarchart), nil
	}
	if !fallbackWorthy(err) {
		return nil, "", err
	}

	records, err = s.callProvider(ctx, string(types.SelectorTiingo), ticker, gap, freq)
	if err != nil {
		return nil, "", err
	}
	return records, string(types.SelectorTiingo), nil
}

func (s *Service) callProvider(ctx context.Context, name, ticker string, gap types.DateRange, freq types.Frequency) ([]types.PriceRecord, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, &types.ConfigurationError{
			Credential:       name,
			ExpectedLocation: "configuration",
			Err:              errors.New("provider is not enabled"),
		}
	}
	if lim := s.limiters[name]; lim != nil {
		if err := lim.Await(ctx, ticker); err != nil {
			return nil, err
		}
	}
	return p.FetchPrices(ctx, ticker, gap.Start, gap.End, freq)
}

// fallbackWorthy reports whether AUTO should try the other provider.
// Configuration and provider failures do; cache errors, validation
// errors and context cancellation surface immediately.
func fallbackWorthy(err error) bool {
	var cerr *types.ConfigurationError
	var perr *types.ProviderError
	return errors.As(err, &cerr) || errors.As(err, &perr)
}

// servedFrom picks the reported provider when no fetch happened: the
// sole queried provider for explicit selectors, otherwise the provider
// that supplied the newest cached row.
func servedFrom(selector types.Selector, records []types.PriceRecord) string {
	if selector != types.SelectorAuto {
		return string(selector)
	}
	if len(records) == 0 {
		return ""
	}
	return records[len(records)-1].Provider
}

func validate(req Request) (ticker string, freq types.Frequency, selector types.Selector, rng types.DateRange, err error) {
	ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if !tickerPattern.MatchString(ticker) {
		return "", "", "", rng, &types.ValidationError{
			Field:  "ticker",
			Reason: "must be 1-10 characters of A-Z, 0-9, '.' or '-'",
			Value:  req.Ticker,
		}
	}

	freq = req.Frequency
	if freq == "" {
		freq = types.FrequencyDaily
	}
	if !freq.Valid() {
		return "", "", "", rng, &types.ValidationError{Field: "frequency", Reason: "unsupported frequency", Value: string(req.Frequency)}
	}

	selector = req.Provider
	if selector == "" {
		selector = types.SelectorAuto
	}
	if !selector.Valid() {
		return "", "", "", rng, &types.ValidationError{Field: "provider", Reason: "unknown provider", Value: string(req.Provider)}
	}

	if req.Start.IsZero() || req.End.IsZero() {
		return "", "", "", rng, &types.ValidationError{Field: "dates", Reason: "start and end are required"}
	}
	rng = types.DateRange{Start: types.Day(req.Start), End: types.Day(req.End)}
	if rng.End.Before(rng.Start) {
		return "", "", "", rng, &types.ValidationError{
			Field:  "dates",
			Reason: "end date precedes start date",
			Value:  req.Start.Format("2006-01-02") + ".." + req.End.Format("2006-01-02"),
		}
	}
	return ticker, freq, selector, rng, nil
}
