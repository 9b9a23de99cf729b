// Package ratelimit bounds per-credential request frequency with a sliding
// window. The in-memory implementation is correct for a single process only;
// multi-instance deployments must inject the Redis-backed implementation so
// the limit holds globally.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call. Limit and Window are echoed
// back so handlers can surface them to clients for backoff.
type Decision struct {
	Allowed   bool
	Limit     int
	Window    time.Duration
	Remaining int
}

// Limiter is the rate limiting contract. Implementations must be safe for
// concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// SlidingWindowLimiter keeps, per key, the request instants within the last
// window and admits a request only while fewer than limit remain.
type SlidingWindowLimiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	now     func() time.Time
	lastGC  time.Time
	gcEvery time.Duration
}

// NewSlidingWindowLimiter creates an in-memory sliding window limiter.
func NewSlidingWindowLimiter() *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		hits:    make(map[string][]time.Time),
		now:     time.Now,
		gcEvery: 5 * time.Minute,
	}
}

// Allow drops instants older than the window, then admits the request only
// if the remaining count is below limit, recording the new instant on
// admission.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	recent := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	d := Decision{Limit: limit, Window: window}
	if len(recent) >= limit {
		l.hits[key] = recent
		l.maybeGC(now, window)
		return d, nil
	}

	recent = append(recent, now)
	l.hits[key] = recent
	d.Allowed = true
	d.Remaining = limit - len(recent)
	l.maybeGC(now, window)
	return d, nil
}

// maybeGC drops keys whose entire window has expired so the map does not
// grow with every credential ever seen. Called with the lock held.
func (l *SlidingWindowLimiter) maybeGC(now time.Time, window time.Duration) {
	if now.Sub(l.lastGC) < l.gcEvery {
		return
	}
	l.lastGC = now
	cutoff := now.Add(-window)
	for key, instants := range l.hits {
		if len(instants) == 0 || !instants[len(instants)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}
