// Package ratelimit paces outgoing provider requests. Each provider gets
// its own limiter; Await blocks the calling goroutine until the pacing
// requirement is satisfied, it is not a background scheduler.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates one provider's requests. Await returns once the next
// request for ticker may be sent, or fails when a hard quota ceiling is
// already reached.
type Limiter interface {
	Await(ctx context.Context, ticker string) error
}

// Pacer enforces inter-request delays keyed by ticker: consecutive calls
// for the same ticker (an adjusted/unadjusted pair) are free, switching
// tickers costs Interval, and every PauseEvery distinct tickers a longer
// Pause is inserted. This matches scrape-style APIs that tolerate bursts
// per symbol but throttle symbol churn.
type Pacer struct {
	Interval   time.Duration
	Pause      time.Duration
	PauseEvery int

	mu         sync.Mutex
	last       time.Time
	lastTicker string
	distinct   int
}

func (p *Pacer) Await(ctx context.Context, ticker string) error {
	// The slot is only claimed under the lock once the spacing actually
	// holds; concurrent callers that slept on the same stale timestamp
	// loop and queue up behind whoever claimed first.
	for {
		p.mu.Lock()
		wait := p.wait(ticker)
		if wait <= 0 {
			p.claim(ticker)
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (p *Pacer) wait(ticker string) time.Duration {
	if p.last.IsZero() || ticker == p.lastTicker {
		return 0
	}
	required := p.Interval
	if p.PauseEvery > 0 && (p.distinct+1)%p.PauseEvery == 0 {
		required = p.Pause
	}
	return time.Until(p.last.Add(required))
}

func (p *Pacer) claim(ticker string) {
	if ticker != p.lastTicker {
		if !p.last.IsZero() {
			p.distinct++
		}
		p.lastTicker = ticker
	}
	p.last = time.Now()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
