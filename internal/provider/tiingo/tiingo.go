// Package tiingo fetches end-of-day prices from the Tiingo REST API,
// authenticating with an API key read from the user's credentials file.
package tiingo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nerdymil30/market-data-api/internal/httpx"
	"github.com/nerdymil30/market-data-api/internal/retry"
	"github.com/nerdymil30/market-data-api/types"
)

// Name is the provider identifier used for cache attribution.
const Name = "tiingo"

type Config struct {
	BaseURL         string
	CredentialsFile string
	MaxRetries      uint
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
}

// Provider implements provider.Provider backed by the Tiingo daily API.
type Provider struct {
	cfg     Config
	http    *httpx.Client
	retryer *retry.Retryer

	mu     sync.Mutex
	client *APIClient
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Provider{
		cfg:     cfg,
		http:    hc,
		retryer: retry.New(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
	}
}

func (p *Provider) Name() string { return Name }

// IsConfigured checks only that the credentials file exists and names a
// Tiingo API key. No network call.
func (p *Provider) IsConfigured() bool {
	key, err := p.loadKey()
	return err == nil && key != ""
}

func (p *Provider) FetchPrices(ctx context.Context, ticker string, start, end time.Time, freq types.Frequency) ([]types.PriceRecord, error) {
	client, err := p.apiClient()
	if err != nil {
		return nil, err
	}

	var rows []dailyPrice
	err = p.retryer.Do(ctx, func() (bool, error) {
		var ferr error
		rows, ferr = client.GetDailyPrices(ctx, ticker, start, end)
		return retryable(ferr), ferr
	})
	if err != nil {
		return nil, asProviderError(err)
	}

	fetchedAt := time.Now().UTC()
	records := make([]types.PriceRecord, 0, len(rows))
	for _, row := range rows {
		// Tiingo timestamps daily rows at midnight with an offset suffix.
		day, err := time.Parse(time.RFC3339, row.Date)
		if err != nil {
			return nil, &types.ProviderError{Provider: Name, Err: fmt.Errorf("bad date %q: %w", row.Date, err)}
		}
		records = append(records, types.PriceRecord{
			Ticker:    ticker,
			Date:      types.Day(day),
			Frequency: freq,
			Provider:  Name,
			Open:      num(row.Open),
			High:      num(row.High),
			Low:       num(row.Low),
			Close:     num(row.Close),
			Volume:    num(row.Volume),
			AdjOpen:   num(row.AdjOpen),
			AdjHigh:   num(row.AdjHigh),
			AdjLow:    num(row.AdjLow),
			AdjClose:  num(row.AdjClose),
			AdjVolume: num(row.AdjVolume),
			FetchedAt: fetchedAt,
		})
	}
	return records, nil
}

func (p *Provider) ValidateCredentials(ctx context.Context) (bool, error) {
	client, err := p.apiClient()
	if err != nil {
		return false, err
	}
	ok, err := client.CheckKey(ctx)
	if err != nil {
		return false, asProviderError(err)
	}
	return ok, nil
}

// credentialsFile is the JSON document at ~/.config/market-data/credentials.json.
type credentialsFile struct {
	TiingoAPIKey string `json:"tiingo_api_key"`
}

func (p *Provider) loadKey() (string, error) {
	b, err := os.ReadFile(p.cfg.CredentialsFile)
	if err != nil {
		return "", err
	}
	var creds credentialsFile
	if err := json.Unmarshal(b, &creds); err != nil {
		return "", err
	}
	return creds.TiingoAPIKey, nil
}

func (p *Provider) apiClient() (*APIClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}

	key, err := p.loadKey()
	if err != nil || key == "" {
		if err == nil {
			err = errors.New("tiingo_api_key is empty")
		}
		return nil, &types.ConfigurationError{
			Credential:       "tiingo_api_key",
			ExpectedLocation: p.cfg.CredentialsFile,
			Err:              err,
		}
	}

	opts := []APIClientOption{WithBaseURL(p.cfg.BaseURL)}
	if p.http != nil {
		opts = append(opts, WithHTTPClient(p.http.HTTP))
	}
	client, err := NewAPIClient(key, opts...)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

// retryable reports whether the failure is worth another attempt:
// transport errors and throttling/server statuses are, everything else
// (auth failures, bad requests) is terminal.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var perr *types.ProviderError
	if errors.As(err, &perr) {
		switch perr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func asProviderError(err error) error {
	var perr *types.ProviderError
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &types.ProviderError{Provider: Name, Err: err}
}

func num(v *float64) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*v))
}
