package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Cache struct {
	Path string `json:"path"`
}

type Barchart struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	CookiesFile string `json:"cookies_file"`
	// Pacing between distinct tickers; same-ticker adjusted/unadjusted
	// pairs are not delayed.
	TickerIntervalSec int `json:"ticker_interval_sec"`
	PauseSec          int `json:"pause_sec"`
	PauseEveryTickers int `json:"pause_every_tickers"`
}

type Tiingo struct {
	Enabled           bool   `json:"enabled"`
	BaseURL           string `json:"base_url"`
	CredentialsFile   string `json:"credentials_file"`
	RequestsPerHour   int    `json:"requests_per_hour"`
	RequestsPerDay    int    `json:"requests_per_day"`
	MinIntervalMillis int    `json:"min_interval_ms"`
}

type HTTP struct {
	TimeoutSec       int `json:"timeout_sec"`
	MaxRetries       int `json:"max_retries"`
	RetryBaseDelayMs int `json:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `json:"retry_max_delay_ms"`
}

type Config struct {
	Server   Server   `json:"server"`
	Cache    Cache    `json:"cache"`
	HTTP     HTTP     `json:"http"`
	Barchart Barchart `json:"barchart"`
	Tiingo   Tiingo   `json:"tiingo"`
}

// Dir returns the per-user config directory holding the cache database
// and credential files.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".market-data")
	}
	return filepath.Join(home, ".config", "market-data")
}

func Default() Config {
	dir := Dir()
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 60},
		Cache:  Cache{Path: filepath.Join(dir, "prices.db")},
		HTTP: HTTP{
			TimeoutSec:       30,
			MaxRetries:       3,
			RetryBaseDelayMs: 500,
			RetryMaxDelayMs:  5000,
		},
		Barchart: Barchart{
			Enabled:           true,
			Endpoint:          "https://www.barchart.com/proxies/core-api/v1/historical/get",
			CookiesFile:       filepath.Join(dir, "barchart_cookies.json"),
			TickerIntervalSec: 2,
			PauseSec:          30,
			PauseEveryTickers: 10,
		},
		Tiingo: Tiingo{
			Enabled:           true,
			BaseURL:           "https://api.tiingo.com",
			CredentialsFile:   filepath.Join(dir, "credentials.json"),
			RequestsPerHour:   50,
			RequestsPerDay:    500,
			MinIntervalMillis: 250,
		},
	}
}

// Load reads JSON config from path. An empty path falls back to
// config.json in the working directory when present, otherwise defaults.
// Environment variables override select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("MARKET_DATA_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("BARCHART_COOKIES_FILE"); v != "" {
		cfg.Barchart.CookiesFile = v
	}
	if v := os.Getenv("BARCHART_ENDPOINT"); v != "" {
		cfg.Barchart.Endpoint = v
	}
	if v := os.Getenv("TIINGO_CREDENTIALS_FILE"); v != "" {
		cfg.Tiingo.CredentialsFile = v
	}
	if v := os.Getenv("TIINGO_BASE_URL"); v != "" {
		cfg.Tiingo.BaseURL = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.HTTP.TimeoutSec = x
		}
	}
	if v := os.Getenv("TIINGO_MAX_RPH"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Tiingo.RequestsPerHour = x
		}
	}
	if v := os.Getenv("TIINGO_MAX_RPD"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Tiingo.RequestsPerDay = x
		}
	}
}
