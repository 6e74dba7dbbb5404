// Package ratelimit provides a sliding-window counter over failed
// authentication attempts, keyed by client identity.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultMaxFailures allowed inside one window before denial.
	DefaultMaxFailures = 5

	// DefaultWindow is the sliding window length.
	DefaultWindow = time.Minute
)

// Decision is the limiter's verdict for a prospective attempt. RetryAfter is
// positive only on denial and hints when the oldest counted failure ages out.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter counts failed attempts per key inside a sliding window. Successful
// authentications never count, so legitimate reconnect storms are not
// penalised while brute force is still blocked. State is per-process.
type Limiter struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	failures map[string][]time.Time
	now      func() time.Time
}

// NewLimiter builds a limiter allowing max failures per window. Non-positive
// arguments fall back to the defaults.
func NewLimiter(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMaxFailures
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		max:      max,
		window:   window,
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether key may attempt authentication now. Pruning of aged
// failures and the threshold check are one atomic unit.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.prune(key, now)
	if len(kept) < l.max {
		return Decision{Allowed: true}
	}
	return Decision{RetryAfter: kept[0].Add(l.window).Sub(now)}
}

// Failure records a failed attempt for key.
func (l *Limiter) Failure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.failures[key] = append(l.prune(key, now), now)
}

// Success clears the failure history for key.
func (l *Limiter) Success(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, key)
}

// prune drops failures older than the window; caller holds the lock.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	all := l.failures[key]
	kept := all[:0]
	for _, t := range all {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, key)
		return nil
	}
	l.failures[key] = kept
	return kept
}

// Stats reports how many keys currently carry failure state.
type Stats struct {
	Keys int `json:"keys"`
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Keys: len(l.failures)}
}
