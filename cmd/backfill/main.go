// Command backfill warms the price cache for a list of tickers. It reads
// one ticker per line, fetches the requested range for each through the
// normal cache-first path and prints a per-ticker summary. Rate limits
// apply as usual, so large lists against Barchart take a while on
// purpose.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nerdymil30/market-data-api/internal/config"
	"github.com/nerdymil30/market-data-api/marketdata"
	"github.com/nerdymil30/market-data-api/types"
)

type tickerResult struct {
	Ticker    string `json:"ticker"`
	Rows      int    `json:"rows"`
	FromCache int    `json:"from_cache"`
	FromAPI   int    `json:"from_api"`
	Provider  string `json:"provider,omitempty"`
	Error     string `json:"error,omitempty"`
}

func main() {
	var (
		tickersFile  string
		outPath      string
		startStr     string
		endStr       string
		providerName string
		refresh      bool
		concurrency  int
		cfgPath      string
	)
	flag.StringVar(&tickersFile, "tickers-file", "tickers.txt", "file with one ticker per line ('#' starts a comment)")
	flag.StringVar(&outPath, "out", "", "write the per-ticker summary JSON to this file (default stdout)")
	flag.StringVar(&startStr, "start", "", "start date, YYYY-MM-DD")
	flag.StringVar(&endStr, "end", "", "end date, YYYY-MM-DD")
	flag.StringVar(&providerName, "provider", "auto", "provider: barchart, tiingo or auto")
	flag.BoolVar(&refresh, "refresh", false, "re-fetch even when cached")
	flag.IntVar(&concurrency, "concurrency", 1, "number of tickers fetched in parallel")
	flag.StringVar(&cfgPath, "config", "", "path to config.json (optional)")
	flag.Parse()

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

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	tickers, err := readTickers(tickersFile)
	if err != nil {
		log.Fatalf("read tickers: %v", err)
	}
	if len(tickers) == 0 {
		log.Fatal("no tickers found in tickers-file")
	}
	log.Printf("tickers: %d", len(tickers))

	svc, err := marketdata.New(cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer svc.Close()

	if concurrency < 1 {
		concurrency = 1
	}

	jobs := make(chan string)
	results := make([]tickerResult, 0, len(tickers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ticker := range jobs {
				res := fetchOne(svc, ticker, start, end, types.Selector(providerName), refresh)
				if res.Error != "" {
					log.Printf("%s: %s", res.Ticker, res.Error)
				} else {
					log.Printf("%s: %d rows (%d cached, %d fetched)", res.Ticker, res.Rows, res.FromCache, res.FromAPI)
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}
	for _, t := range tickers {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	var fetched, failed int
	for _, r := range results {
		if r.Error != "" {
			failed++
			continue
		}
		fetched += r.FromAPI
	}
	log.Printf("done: %d tickers, %d rows fetched, %d failed", len(tickers), fetched, failed)

	b, _ := json.MarshalIndent(results, "", "  ")
	if outPath == "" {
		fmt.Println(string(b))
		return
	}
	if err := os.WriteFile(outPath, b, 0o644); err != nil {
		log.Fatalf("write %s: %v", outPath, err)
	}
	log.Printf("wrote %s", outPath)
}

func fetchOne(svc *marketdata.Service, ticker string, start, end time.Time, selector types.Selector, refresh bool) tickerResult {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	data, err := svc.GetPrices(ctx, marketdata.Request{
		Ticker:   ticker,
		Start:    start,
		End:      end,
		Provider: selector,
		Refresh:  refresh,
	})
	if err != nil {
		return tickerResult{Ticker: ticker, Error: err.Error()}
	}
	return tickerResult{
		Ticker:    data.Ticker,
		Rows:      len(data.Records),
		FromCache: data.FromCache,
		FromAPI:   data.FromAPI,
		Provider:  data.Provider,
	}
}

func readTickers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		ticker := strings.ToUpper(line)
		if _, ok := seen[ticker]; ok {
			continue
		}
		seen[ticker] = struct{}{}
		out = append(out, ticker)
	}
	return out, sc.Err()
}
