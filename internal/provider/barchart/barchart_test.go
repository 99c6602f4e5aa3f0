package barchart_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerdymil30/market-data-api/internal/httpx"
	"github.com/nerdymil30/market-data-api/internal/provider/barchart"
	"github.com/nerdymil30/market-data-api/types"
)

func writeCookies(t *testing.T, cookies map[string]string) string {
	t.Helper()
	b, err := json.Marshal(cookies)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "barchart_cookies.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func newProvider(t *testing.T, endpoint, cookiesFile string) *barchart.Provider {
	t.Helper()
	return barchart.New(barchart.Config{
		Endpoint:       endpoint,
		CookiesFile:    cookiesFile,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}, httpx.New(5*time.Second))
}

func TestIsConfigured(t *testing.T) {
	withCookies := newProvider(t, "http://unused", writeCookies(t, map[string]string{"laravel_session": "s"}))
	require.True(t, withCookies.IsConfigured())

	empty := newProvider(t, "http://unused", writeCookies(t, map[string]string{}))
	require.False(t, empty.IsConfigured())

	missing := newProvider(t, "http://unused", filepath.Join(t.TempDir(), "nope.json"))
	require.False(t, missing.IsConfigured())
}

func TestFetchPricesMergesAdjustedAndUnadjusted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Cookie"), "laravel_session=s")
		require.Equal(t, "tok en", r.Header.Get("X-XSRF-TOKEN"), "XSRF token is url-decoded")
		require.Equal(t, "AAPL", r.URL.Query().Get("symbol"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("adjusted") {
		case "false":
			w.Write([]byte(`{"count":2,"total":2,"data":[
				{"tradeTime":"2024-01-02","openPrice":185.5,"highPrice":187,"lowPrice":184.25,"lastPrice":186.1,"volume":52000000},
				{"tradeTime":"2024-01-03","openPrice":186.2,"highPrice":186.4,"lowPrice":183.9,"lastPrice":184.9,"volume":48000000}
			]}`))
		case "true":
			w.Write([]byte(`{"count":2,"total":2,"data":[
				{"tradeTime":"2024-01-02","openPrice":185.0,"highPrice":186.5,"lowPrice":183.8,"lastPrice":185.6,"volume":52000000},
				{"tradeTime":"2024-01-03","openPrice":185.7,"highPrice":185.9,"lowPrice":183.4,"lastPrice":184.4,"volume":48000000}
			]}`))
		default:
			t.Errorf("missing adjusted query param")
		}
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, writeCookies(t, map[string]string{
		"laravel_session": "s",
		"XSRF-TOKEN":      "tok%20en",
	}))

	records, err := p.FetchPrices(t.Context(), "AAPL",
		types.Date(2024, time.January, 2), types.Date(2024, time.January, 5), types.FrequencyDaily)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	require.Equal(t, "barchart", first.Provider)
	require.True(t, first.Date.Equal(types.Date(2024, time.January, 2)))
	require.Equal(t, "186.1", first.Close.Decimal.String())
	require.Equal(t, "185.6", first.AdjClose.Decimal.String())
	require.True(t, records[0].Date.Before(records[1].Date))
}

func TestFetchPricesMissingCookiesIsConfigurationError(t *testing.T) {
	p := newProvider(t, "http://unused", filepath.Join(t.TempDir(), "barchart_cookies.json"))

	_, err := p.FetchPrices(t.Context(), "AAPL",
		types.Date(2024, time.January, 2), types.Date(2024, time.January, 5), types.FrequencyDaily)

	var cerr *types.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, "barchart_cookies", cerr.Credential)
}

func TestFetchPricesRejectedCookiesIsConfigurationError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, writeCookies(t, map[string]string{"laravel_session": "expired"}))

	_, err := p.FetchPrices(t.Context(), "AAPL",
		types.Date(2024, time.January, 2), types.Date(2024, time.January, 5), types.FrequencyDaily)

	var cerr *types.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	require.EqualValues(t, 1, calls.Load(), "auth rejection must not be retried")
}

func TestFetchPricesServerErrorIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, writeCookies(t, map[string]string{"laravel_session": "s"}))

	_, err := p.FetchPrices(t.Context(), "AAPL",
		types.Date(2024, time.January, 2), types.Date(2024, time.January, 5), types.FrequencyDaily)

	var perr *types.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "barchart", perr.Provider)
	require.Equal(t, http.StatusInternalServerError, perr.StatusCode)
}

func TestFetchPricesEmptyRangeIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":0,"total":0,"data":[]}`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, writeCookies(t, map[string]string{"laravel_session": "s"}))

	// A weekend: no trading days, no rows.
	records, err := p.FetchPrices(t.Context(), "AAPL",
		types.Date(2024, time.January, 6), types.Date(2024, time.January, 7), types.FrequencyDaily)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestValidateCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") == "laravel_session=good" {
			w.Write([]byte(`{"count":1,"total":1,"data":[{"tradeTime":"2024-01-02","lastPrice":470.1}]}`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	good := newProvider(t, srv.URL, writeCookies(t, map[string]string{"laravel_session": "good"}))
	ok, err := good.ValidateCredentials(t.Context())
	require.NoError(t, err)
	require.True(t, ok)

	bad := newProvider(t, srv.URL, writeCookies(t, map[string]string{"laravel_session": "bad"}))
	ok, err = bad.ValidateCredentials(t.Context())
	require.NoError(t, err)
	require.False(t, ok)
}
