// Package store is the persistent price cache: one SQLite file holding
// daily OHLCV rows keyed by (ticker, date, frequency, provider).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nerdymil30/market-data-api/internal/gaps"
	"github.com/nerdymil30/market-data-api/types"
)

const dateLayout = "2006-01-02"

// Store owns the cache database. Safe for concurrent use within one
// process; cross-process writers are only protected by SQLite's own file
// locking (last writer wins).
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (or creates) the cache database at path and ensures the
// schema exists. The parent directory is created if missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &types.CacheError{Op: "open", Err: fmt.Errorf("create cache dir: %w", err)}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &types.CacheError{Op: "open", Err: err}
	}
	// Single logical writer; one connection avoids SQLITE_BUSY between
	// pooled connections of the same process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, &types.CacheError{Op: "open", Err: fmt.Errorf("set WAL mode: %w", err)}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, &types.CacheError{Op: "open", Err: fmt.Errorf("set busy timeout: %w", err)}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, &types.CacheError{Op: "open", Err: fmt.Errorf("migrate: %w", err)}
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS prices (
			ticker     TEXT NOT NULL,
			date       DATE NOT NULL,
			frequency  TEXT NOT NULL,
			provider   TEXT NOT NULL,
			open       REAL,
			high       REAL,
			low        REAL,
			close      REAL,
			volume     REAL,
			adj_open   REAL,
			adj_high   REAL,
			adj_low    REAL,
			adj_close  REAL,
			adj_volume REAL,
			fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (ticker, date, frequency, provider)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticker_date ON prices (ticker, date)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const recordColumns = `ticker, date, frequency, provider,
	open, high, low, close, volume,
	adj_open, adj_high, adj_low, adj_close, adj_volume, fetched_at`

// QueryRange returns cached rows for the ticker whose date falls inside
// rng, sorted by date ascending. An empty provider matches any provider.
// An empty result is valid, not an error.
func (s *Store) QueryRange(ctx context.Context, ticker string, freq types.Frequency, provider string, rng types.DateRange) ([]types.PriceRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM prices
		WHERE ticker = ? AND frequency = ? AND date >= ? AND date <= ?`
	args := []any{ticker, string(freq), rng.Start.Format(dateLayout), rng.End.Format(dateLayout)}
	if provider != "" {
		query += ` AND provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY date ASC, provider ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &types.CacheError{Op: "query", Err: err}
	}
	defer rows.Close()

	var out []types.PriceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &types.CacheError{Op: "query", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.CacheError{Op: "query", Err: err}
	}
	return out, nil
}

// Coverage returns the coalesced date ranges already cached for the key.
// An empty provider means coverage from any provider.
func (s *Store) Coverage(ctx context.Context, ticker string, freq types.Frequency, provider string) ([]types.DateRange, error) {
	query := `SELECT DISTINCT date FROM prices WHERE ticker = ? AND frequency = ?`
	args := []any{ticker, string(freq)}
	if provider != "" {
		query += ` AND provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY date ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &types.CacheError{Op: "coverage", Err: err}
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, &types.CacheError{Op: "coverage", Err: err}
		}
		d, err := scanDay(raw)
		if err != nil {
			return nil, &types.CacheError{Op: "coverage", Err: err}
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.CacheError{Op: "coverage", Err: err}
	}
	return gaps.Coalesce(dates), nil
}

// Upsert writes records for (ticker, freq, provider) in one transaction:
// all rows become visible together or none do. Rows with an existing key
// are replaced. Returns the number of rows written.
//
// Attribution comes from the arguments; the Ticker/Frequency/Provider
// fields of the individual records are ignored.
func (s *Store) Upsert(ctx context.Context, ticker string, freq types.Frequency, provider string, records []types.PriceRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &types.CacheError{Op: "upsert", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO prices (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, &types.CacheError{Op: "upsert", Err: err}
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, rec := range records {
		fetchedAt := rec.FetchedAt
		if fetchedAt.IsZero() {
			fetchedAt = now
		}
		_, err := stmt.ExecContext(ctx,
			ticker, types.Day(rec.Date).Format(dateLayout), string(freq), provider,
			rec.Open, rec.High, rec.Low, rec.Close, rec.Volume,
			rec.AdjOpen, rec.AdjHigh, rec.AdjLow, rec.AdjClose, rec.AdjVolume,
			fetchedAt.Format(time.RFC3339),
		)
		if err != nil {
			return 0, &types.CacheError{Op: "upsert", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &types.CacheError{Op: "upsert", Err: err}
	}
	return len(records), nil
}

// Clear deletes cached rows. Empty ticker matches all tickers, empty
// provider all providers; both empty clears everything. Returns the
// number of rows deleted.
func (s *Store) Clear(ctx context.Context, ticker, provider string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `DELETE FROM prices WHERE 1=1`
	var args []any
	if ticker != "" {
		query += ` AND ticker = ?`
		args = append(args, ticker)
	}
	if provider != "" {
		query += ` AND provider = ?`
		args = append(args, provider)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &types.CacheError{Op: "clear", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &types.CacheError{Op: "clear", Err: err}
	}
	return n, nil
}

// Stats reports cache totals and the database file size.
func (s *Store) Stats(ctx context.Context) (*types.CacheStats, error) {
	stats := &types.CacheStats{}

	var oldest, newest any
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT ticker), MIN(date), MAX(date) FROM prices`,
	).Scan(&stats.TotalRows, &stats.UniqueTickers, &oldest, &newest)
	if err != nil {
		return nil, &types.CacheError{Op: "stats", Err: err}
	}
	if oldest != nil {
		if stats.OldestDate, err = scanDay(oldest); err != nil {
			return nil, &types.CacheError{Op: "stats", Err: err}
		}
	}
	if newest != nil {
		if stats.NewestDate, err = scanDay(newest); err != nil {
			return nil, &types.CacheError{Op: "stats", Err: err}
		}
	}

	if fi, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = fi.Size()
	}
	return stats, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return &types.CacheError{Op: "close", Err: err}
	}
	return nil
}

func scanRecord(rows *sql.Rows) (types.PriceRecord, error) {
	var rec types.PriceRecord
	var rawFreq string
	var rawDate, rawFetched any

	err := rows.Scan(
		&rec.Ticker, &rawDate, &rawFreq, &rec.Provider,
		&rec.Open, &rec.High, &rec.Low, &rec.Close, &rec.Volume,
		&rec.AdjOpen, &rec.AdjHigh, &rec.AdjLow, &rec.AdjClose, &rec.AdjVolume,
		&rawFetched,
	)
	if err != nil {
		return rec, err
	}

	rec.Frequency = types.Frequency(rawFreq)
	if rec.Date, err = scanDay(rawDate); err != nil {
		return rec, err
	}
	if rawFetched != nil {
		if rec.FetchedAt, err = scanTimestamp(rawFetched); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// scanDay converts a date column value to a UTC calendar day. The driver
// hands DATE-declared columns back as time.Time; raw text reaches us from
// rows written out-of-band.
func scanDay(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return types.Day(d), nil
	case string:
		return parseDay(d)
	case []byte:
		return parseDay(string(d))
	}
	return time.Time{}, fmt.Errorf("corrupt date: unexpected type %T", v)
}

func parseDay(s string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt date %q: %w", s, err)
	}
	return d, nil
}

func scanTimestamp(v any) (time.Time, error) {
	switch ts := v.(type) {
	case time.Time:
		return ts.UTC(), nil
	case string:
		return parseTimestamp(ts)
	case []byte:
		return parseTimestamp(string(ts))
	}
	return time.Time{}, fmt.Errorf("corrupt fetched_at: unexpected type %T", v)
}

func parseTimestamp(s string) (time.Time, error) {
	// RFC3339 from this library; SQLite's default CURRENT_TIMESTAMP
	// format for rows written out-of-band.
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt fetched_at %q", s)
	}
	return ts, nil
}
