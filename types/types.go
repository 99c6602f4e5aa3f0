package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Frequency is the sampling interval of a price series.
type Frequency string

const (
	FrequencyDaily Frequency = "daily"
)

// Valid reports whether the frequency is one this library supports.
func (f Frequency) Valid() bool {
	return f == FrequencyDaily
}

// Selector picks which provider serves a request.
type Selector string

const (
	SelectorBarchart Selector = "barchart"
	SelectorTiingo   Selector = "tiingo"
	// SelectorAuto tries Barchart first and falls back to Tiingo when
	// Barchart is unconfigured or fails.
	SelectorAuto Selector = "auto"
)

func (s Selector) Valid() bool {
	switch s {
	case SelectorBarchart, SelectorTiingo, SelectorAuto:
		return true
	}
	return false
}

// PriceRecord is one trading day of prices for a ticker as reported by a
// single provider. Identity is (Ticker, Date, Frequency, Provider); the
// store replaces rows in place on that key.
//
// Price fields are nullable: providers occasionally omit individual
// columns (volume on indices, adjusted series on short histories) and a
// missing value stays missing rather than becoming zero.
type PriceRecord struct {
	Ticker    string    `json:"ticker"`
	Date      time.Time `json:"date"`
	Frequency Frequency `json:"frequency"`
	Provider  string    `json:"provider"`

	Open   decimal.NullDecimal `json:"open"`
	High   decimal.NullDecimal `json:"high"`
	Low    decimal.NullDecimal `json:"low"`
	Close  decimal.NullDecimal `json:"close"`
	Volume decimal.NullDecimal `json:"volume"`

	AdjOpen   decimal.NullDecimal `json:"adj_open"`
	AdjHigh   decimal.NullDecimal `json:"adj_high"`
	AdjLow    decimal.NullDecimal `json:"adj_low"`
	AdjClose  decimal.NullDecimal `json:"adj_close"`
	AdjVolume decimal.NullDecimal `json:"adj_volume"`

	FetchedAt time.Time `json:"fetched_at"`
}

// DateRange is an inclusive calendar-day range, Start <= End.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the number of calendar days covered, inclusive.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d time.Time) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// PriceData is the result of one GetPrices call. Records are sorted by
// date ascending. FromCache + FromAPI equals len(Records).
type PriceData struct {
	Records   []PriceRecord `json:"records"`
	Ticker    string        `json:"ticker"`
	Provider  string        `json:"provider"`
	FromCache int           `json:"from_cache"`
	FromAPI   int           `json:"from_api"`
	StartDate time.Time     `json:"start_date"`
	EndDate   time.Time     `json:"end_date"`
}

// CacheStats summarizes the persistent cache contents.
type CacheStats struct {
	TotalRows     int       `json:"total_rows"`
	UniqueTickers int       `json:"unique_tickers"`
	OldestDate    time.Time `json:"oldest_date"`
	NewestDate    time.Time `json:"newest_date"`
	SizeBytes     int64     `json:"size_bytes"`
}

// Day truncates t to a UTC calendar date. All dates handled by this
// library are normalized through Day before comparison or storage.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Date builds a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
