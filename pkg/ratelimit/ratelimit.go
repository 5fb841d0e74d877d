package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window request limiter keyed by client. Each key
// may make at most max requests in any trailing window. Safe for
// concurrent use.
type Limiter struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	requests map[string][]time.Time
}

// New creates a Limiter allowing max requests per window for each key.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:      max,
		window:   window,
		requests: make(map[string][]time.Time),
	}
}

// Allow records a request for key and reports whether it fits the budget.
// Denied requests are not recorded, so a throttled client recovers as soon
// as old requests age out.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	kept := l.pruneLocked(key, now)
	if len(kept) >= l.max {
		return false
	}
	l.requests[key] = append(kept, now)
	return true
}

// Remaining reports how many requests key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.pruneLocked(key, time.Now())
	if len(kept) >= l.max {
		return 0
	}
	return l.max - len(kept)
}

// pruneLocked drops timestamps that fell out of the window and returns
// what is left. Caller holds the lock.
func (l *Limiter) pruneLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	times := l.requests[key]
	kept := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.requests, key)
	} else {
		l.requests[key] = kept
	}
	return kept
}
