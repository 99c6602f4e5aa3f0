package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nerdymil30/market-data-api/marketdata"
	"github.com/nerdymil30/market-data-api/types"
)

type fakeService struct {
	lastReq marketdata.Request
	data    *types.PriceData
	err     error
	cleared int64
}

func (f *fakeService) GetPrices(_ context.Context, req marketdata.Request) (*types.PriceData, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func (f *fakeService) Stats(context.Context) (*types.CacheStats, error) {
	return &types.CacheStats{TotalRows: 42, UniqueTickers: 3}, nil
}

func (f *fakeService) Clear(_ context.Context, ticker, provider string) (int64, error) {
	return f.cleared, nil
}

func (f *fakeService) ValidateCredentials(context.Context) map[string]bool {
	return map[string]bool{"barchart": false, "tiingo": true}
}

func get(t *testing.T, svc priceService, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	newMux(svc, 10*time.Second).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestGetPrices_OK(t *testing.T) {
	day := types.Date(2024, 2, 1)
	svc := &fakeService{data: &types.PriceData{
		Ticker:   "AAPL",
		Provider: "tiingo",
		FromAPI:  1,
		Records: []types.PriceRecord{{
			Ticker: "AAPL", Date: day, Frequency: types.FrequencyDaily, Provider: "tiingo",
			Close: decimal.NewNullDecimal(decimal.NewFromFloat(185.5)),
		}},
	}}

	rr := get(t, svc, "/v1/prices?ticker=AAPL&start=2024-02-01&end=2024-02-05&provider=tiingo&refresh=true")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	var resp types.PriceData
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ticker != "AAPL" || resp.Provider != "tiingo" || resp.FromAPI != 1 {
		t.Fatalf("unexpected: %+v", resp)
	}

	if svc.lastReq.Ticker != "AAPL" || !svc.lastReq.Refresh {
		t.Fatalf("request not forwarded: %+v", svc.lastReq)
	}
	if svc.lastReq.Provider != types.SelectorTiingo {
		t.Fatalf("provider=%q", svc.lastReq.Provider)
	}
	if !svc.lastReq.Start.Equal(day) {
		t.Fatalf("start=%v", svc.lastReq.Start)
	}
}

func TestGetPrices_MissingParams(t *testing.T) {
	rr := get(t, &fakeService{}, "/v1/prices?ticker=AAPL&start=2024-02-01")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGetPrices_BadDate(t *testing.T) {
	rr := get(t, &fakeService{}, "/v1/prices?ticker=AAPL&start=02-01-2024&end=2024-02-05")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGetPrices_ErrorStatuses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &types.ValidationError{Field: "ticker", Reason: "bad"}, http.StatusBadRequest},
		{"configuration", &types.ConfigurationError{Credential: "tiingo_api_key"}, http.StatusServiceUnavailable},
		{"quota", &types.ProviderError{Provider: "tiingo", QuotaExceeded: true}, http.StatusTooManyRequests},
		{"upstream", &types.ProviderError{Provider: "barchart", StatusCode: 500}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := get(t, &fakeService{err: tc.err}, "/v1/prices?ticker=AAPL&start=2024-02-01&end=2024-02-05")
			if rr.Code != tc.want {
				t.Fatalf("status=%d want=%d body=%s", rr.Code, tc.want, rr.Body.String())
			}
			var resp errorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error == "" {
				t.Fatal("empty error message")
			}
		})
	}
}

func TestCacheStats(t *testing.T) {
	rr := get(t, &fakeService{}, "/v1/cache/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var stats types.CacheStats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalRows != 42 || stats.UniqueTickers != 3 {
		t.Fatalf("unexpected: %+v", stats)
	}
}

func TestClearCache(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/v1/cache?ticker=aapl", nil)
	newMux(&fakeService{cleared: 7}, 10*time.Second).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp map[string]int64
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["deleted"] != 7 {
		t.Fatalf("unexpected: %+v", resp)
	}
}

func TestCredentials(t *testing.T) {
	rr := get(t, &fakeService{}, "/v1/credentials")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp["tiingo"] || resp["barchart"] {
		t.Fatalf("unexpected: %+v", resp)
	}
}
