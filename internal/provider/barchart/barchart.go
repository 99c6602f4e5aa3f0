// Package barchart fetches end-of-day prices from Barchart's historical
// quote API. Authentication rides on browser cookies exported to a local
// JSON file; there is no API key. Each fetch costs two requests, one for
// the unadjusted series and one for the split/dividend adjusted series,
// merged by trading date.
package barchart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nerdymil30/market-data-api/internal/httpx"
	"github.com/nerdymil30/market-data-api/internal/retry"
	"github.com/nerdymil30/market-data-api/types"
)

// Name is the provider identifier used for cache attribution.
const Name = "barchart"

const dateLayout = "2006-01-02"

type Config struct {
	Endpoint       string
	CookiesFile    string
	MaxRetries     uint
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Provider implements provider.Provider against the Barchart API.
type Provider struct {
	cfg     Config
	client  *httpx.Client
	retryer *retry.Retryer
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://www.barchart.com/proxies/core-api/v1/historical/get"
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
		client:  hc,
		retryer: retry.New(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
	}
}

func (p *Provider) Name() string { return Name }

// IsConfigured checks only that the cookie export file exists and holds
// at least one cookie. No network call.
func (p *Provider) IsConfigured() bool {
	cookies, err := p.loadCookies()
	return err == nil && len(cookies) > 0
}

func (p *Provider) FetchPrices(ctx context.Context, ticker string, start, end time.Time, freq types.Frequency) ([]types.PriceRecord, error) {
	cookies, err := p.loadCookies()
	if err != nil {
		return nil, err
	}

	unadjusted, err := p.getHistory(ctx, cookies, ticker, start, end, false)
	if err != nil {
		return nil, err
	}
	adjusted, err := p.getHistory(ctx, cookies, ticker, start, end, true)
	if err != nil {
		return nil, err
	}

	fetchedAt := time.Now().UTC()
	byDate := make(map[string]*types.PriceRecord, len(unadjusted))
	record := func(day string) (*types.PriceRecord, error) {
		if rec, ok := byDate[day]; ok {
			return rec, nil
		}
		d, err := time.ParseInLocation(dateLayout, day, time.UTC)
		if err != nil {
			return nil, &types.ProviderError{Provider: Name, Err: fmt.Errorf("bad trade date %q: %w", day, err)}
		}
		rec := &types.PriceRecord{
			Ticker:    ticker,
			Date:      d,
			Frequency: freq,
			Provider:  Name,
			FetchedAt: fetchedAt,
		}
		byDate[day] = rec
		return rec, nil
	}

	for _, row := range unadjusted {
		rec, err := record(row.TradeTime)
		if err != nil {
			return nil, err
		}
		rec.Open, rec.High, rec.Low, rec.Close, rec.Volume =
			num(row.Open), num(row.High), num(row.Low), num(row.Close), num(row.Volume)
	}
	for _, row := range adjusted {
		rec, err := record(row.TradeTime)
		if err != nil {
			return nil, err
		}
		rec.AdjOpen, rec.AdjHigh, rec.AdjLow, rec.AdjClose, rec.AdjVolume =
			num(row.Open), num(row.High), num(row.Low), num(row.Close), num(row.Volume)
	}

	records := make([]types.PriceRecord, 0, len(byDate))
	for _, rec := range byDate {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })
	return records, nil
}

// ValidateCredentials requests a single recent row to confirm the cookies
// still authenticate.
func (p *Provider) ValidateCredentials(ctx context.Context) (bool, error) {
	cookies, err := p.loadCookies()
	if err != nil {
		return false, err
	}

	end := types.Day(time.Now().UTC())
	_, err = p.getHistory(ctx, cookies, "SPY", end.AddDate(0, 0, -7), end, false)
	if err != nil {
		var cerr *types.ConfigurationError
		if errors.As(err, &cerr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type historyRow struct {
	TradeTime string   `json:"tradeTime"`
	Open      *float64 `json:"openPrice"`
	High      *float64 `json:"highPrice"`
	Low       *float64 `json:"lowPrice"`
	Close     *float64 `json:"lastPrice"`
	Volume    *float64 `json:"volume"`
}

type apiResponse struct {
	Count int          `json:"count"`
	Total int          `json:"total"`
	Data  []historyRow `json:"data"`
}

func (p *Provider) getHistory(ctx context.Context, cookies map[string]string, ticker string, start, end time.Time, adjusted bool) ([]historyRow, error) {
	q := url.Values{}
	q.Set("symbol", ticker)
	q.Set("type", "eod")
	q.Set("startDate", start.Format(dateLayout))
	q.Set("endDate", end.Format(dateLayout))
	q.Set("adjusted", fmt.Sprintf("%t", adjusted))
	q.Set("fields", "tradeTime.format(Y-m-d),openPrice,highPrice,lowPrice,lastPrice,volume")
	q.Set("orderBy", "tradeTime")
	q.Set("orderDir", "asc")
	u := p.cfg.Endpoint + "?" + q.Encode()

	var out []historyRow
	err := p.retryer.Do(ctx, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
		if err != nil {
			return false, err
		}
		req.Header.Set("Cookie", cookieHeader(cookies))
		if token, ok := cookies["XSRF-TOKEN"]; ok {
			if decoded, err := url.QueryUnescape(token); err == nil {
				token = decoded
			}
			req.Header.Set("X-XSRF-TOKEN", token)
		}

		res, err := p.client.Do(ctx, req)
		if err != nil {
			return true, &types.ProviderError{Provider: Name, Err: err}
		}
		defer res.Body.Close()

		switch res.StatusCode {
		case http.StatusOK:
		case http.StatusUnauthorized, http.StatusForbidden:
			// Expired browser session, a fresh cookie export is required.
			return false, &types.ConfigurationError{
				Credential:       "barchart_cookies",
				ExpectedLocation: p.cfg.CookiesFile,
				Err:              fmt.Errorf("cookies rejected with http %d", res.StatusCode),
			}
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true, statusError(res)
		default:
			return false, statusError(res)
		}

		var api apiResponse
		if err := json.NewDecoder(res.Body).Decode(&api); err != nil {
			return false, &types.ProviderError{Provider: Name, Err: fmt.Errorf("decode history: %w", err)}
		}
		out = api.Data
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) loadCookies() (map[string]string, error) {
	b, err := os.ReadFile(p.cfg.CookiesFile)
	if err != nil {
		return nil, &types.ConfigurationError{
			Credential:       "barchart_cookies",
			ExpectedLocation: p.cfg.CookiesFile,
			Err:              err,
		}
	}
	var cookies map[string]string
	if err := json.Unmarshal(b, &cookies); err != nil {
		return nil, &types.ConfigurationError{
			Credential:       "barchart_cookies",
			ExpectedLocation: p.cfg.CookiesFile,
			Err:              fmt.Errorf("parse cookies: %w", err),
		}
	}
	if len(cookies) == 0 {
		return nil, &types.ConfigurationError{
			Credential:       "barchart_cookies",
			ExpectedLocation: p.cfg.CookiesFile,
			Err:              errors.New("cookie file is empty"),
		}
	}
	return cookies, nil
}

func cookieHeader(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+cookies[name])
	}
	return strings.Join(pairs, "; ")
}

func statusError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
	return &types.ProviderError{
		Provider:   Name,
		StatusCode: res.StatusCode,
		Body:       string(body),
	}
}

func num(v *float64) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*v))
}
