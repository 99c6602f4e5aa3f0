package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/nerdymil30/market-data-api/types"
)

// Quota enforces rolling hourly and daily request ceilings plus a minimum
// spacing between calls. When a ceiling is already reached Await fails
// immediately with a quota-exceeded ProviderError instead of blocking
// until the window rolls over; callers must not be starved silently.
type Quota struct {
	Provider    string
	PerHour     int
	PerDay      int
	MinInterval time.Duration

	mu        sync.Mutex
	hourCount int
	dayCount  int
	hourReset time.Time
	dayReset  time.Time
	last      time.Time
}

func (q *Quota) Await(ctx context.Context, ticker string) error {
	q.mu.Lock()
	now := time.Now()
	q.resetIfNeeded(now)

	if (q.PerHour > 0 && q.hourCount >= q.PerHour) || (q.PerDay > 0 && q.dayCount >= q.PerDay) {
		q.mu.Unlock()
		return &types.ProviderError{Provider: q.Provider, QuotaExceeded: true}
	}

	slot := q.last.Add(q.MinInterval)
	if slot.Before(now) {
		slot = now
	}
	q.last = slot
	q.hourCount++
	q.dayCount++
	q.mu.Unlock()

	if err := sleep(ctx, time.Until(slot)); err != nil {
		// The request never went out; give the slot back. Counts clamp
		// at zero in case a window rolled over during the wait.
		q.mu.Lock()
		if q.hourCount > 0 {
			q.hourCount--
		}
		if q.dayCount > 0 {
			q.dayCount--
		}
		q.mu.Unlock()
		return err
	}
	return nil
}

func (q *Quota) resetIfNeeded(now time.Time) {
	if q.hourReset.IsZero() || now.After(q.hourReset) {
		q.hourCount = 0
		q.hourReset = now.Add(time.Hour)
	}
	if q.dayReset.IsZero() || now.After(q.dayReset) {
		q.dayCount = 0
		q.dayReset = now.Add(24 * time.Hour)
	}
}

// Remaining reports how many requests are left in the hourly and daily
// windows. Used for operator diagnostics.
func (q *Quota) Remaining() (hour, day int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetIfNeeded(time.Now())
	hour, day = q.PerHour-q.hourCount, q.PerDay-q.dayCount
	if hour < 0 {
		hour = 0
	}
	if day < 0 {
		day = 0
	}
	return hour, day
}
