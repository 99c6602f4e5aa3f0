package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/nerdymil30/market-data-api/internal/config"
	"github.com/nerdymil30/market-data-api/marketdata"
	"github.com/nerdymil30/market-data-api/types"
)

func main() {
	var (
		ticker       string
		startStr     string
		endStr       string
		providerName string
		refresh      bool
		timeout      int
		configPath   string

		showStats   bool
		clearTarget bool
		validate    bool
	)

	flag.StringVar(&ticker, "ticker", getenv("TICKER", ""), "ticker symbol (e.g. AAPL)")
	flag.StringVar(&startStr, "start", "", "start date, YYYY-MM-DD")
	flag.StringVar(&endStr, "end", "", "end date, YYYY-MM-DD")
	flag.StringVar(&providerName, "provider", getenv("PROVIDER", "auto"), "provider: barchart, tiingo or auto")
	flag.BoolVar(&refresh, "refresh", false, "re-fetch the range even when cached")
	flag.IntVar(&timeout, "timeout", getenvInt("REQUEST_TIMEOUT_SEC", 120), "overall timeout seconds")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json (optional)")
	flag.BoolVar(&showStats, "stats", false, "print cache statistics and exit")
	flag.BoolVar(&clearTarget, "clear", false, "clear cached rows for -ticker and/or -provider (both empty clears everything)")
	flag.BoolVar(&validate, "validate", false, "probe provider credentials and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if timeout != 0 {
		cfg.Server.RequestTimeoutSec = timeout
	}

	svc, err := marketdata.New(cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.RequestTimeoutSec)*time.Second)
	defer cancel()

	switch {
	case showStats:
		stats, err := svc.Stats(ctx)
		if err != nil {
			log.Fatalf("stats: %v", err)
		}
		printJSON(struct {
			Cache  *types.CacheStats                 `json:"cache"`
			Quotas map[string]marketdata.QuotaStatus `json:"quotas"`
		}{stats, svc.QuotaRemaining()})
	case validate:
		printJSON(svc.ValidateCredentials(ctx))
	case clearTarget:
		provider := providerName
		if provider == "auto" {
			provider = ""
		}
		n, err := svc.Clear(ctx, strings.ToUpper(strings.TrimSpace(ticker)), provider)
		if err != nil {
			log.Fatalf("clear: %v", err)
		}
		log.Printf("cleared %d rows", n)
	default:
		fetch(ctx, svc, ticker, startStr, endStr, providerName, refresh)
	}
}

func fetch(ctx context.Context, svc *marketdata.Service, ticker, startStr, endStr, providerName string, refresh bool) {
	if startStr == "" || endStr == "" {
		log.Fatal("both -start and -end are required (YYYY-MM-DD)")
	}
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		log.Fatalf("end: %v", err)
	}

	data, err := svc.GetPrices(ctx, marketdata.Request{
		Ticker:   ticker,
		Start:    start,
		End:      end,
		Provider: types.Selector(providerName),
		Refresh:  refresh,
	})
	if err != nil {
		fail(err)
	}

	log.Printf("%s: %d rows (%d cached, %d fetched) via %s",
		data.Ticker, len(data.Records), data.FromCache, data.FromAPI, data.Provider)
	printJSON(data)
}

// fail prints the most useful message each error class carries.
func fail(err error) {
	var verr *types.ValidationError
	var cerr *types.ConfigurationError
	var perr *types.ProviderError
	switch {
	case errors.As(err, &verr):
		log.Fatalf("invalid request: %v", verr)
	case errors.As(err, &cerr):
		log.Fatalf("not configured: %v (expected at %s)", cerr, cerr.ExpectedLocation)
	case errors.As(err, &perr) && perr.QuotaExceeded:
		log.Fatalf("quota exhausted: %v", perr)
	case errors.As(err, &perr):
		log.Fatalf("provider failure: %v", perr)
	default:
		log.Fatalf("fetch: %v", err)
	}
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x != 0 {
			return x
		}
	}
	return def
}
