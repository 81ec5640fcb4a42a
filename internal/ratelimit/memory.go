package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count     int
	expiresAt time.Time
}

// MemoryLimiter is a process-local Limiter for single-instance deployments
// and tests.
type MemoryLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	counters map[string]*counter
}

// NewMemoryLimiter creates a limiter allowing limit requests per window.
// Non-positive values fall back to the defaults.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: make(map[string]*counter),
	}
}

// WithClock replaces the time source.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

// Allow counts the request when it fits in the current window.
func (l *MemoryLimiter) Allow(_ context.Context, copytraderID, pair string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key(copytraderID, pair)

	c, ok := l.counters[k]
	if !ok || !now.Before(c.expiresAt) {
		l.counters[k] = &counter{count: 1, expiresAt: now.Add(l.window)}
		l.gc(now)
		return true, nil
	}

	if c.count >= l.limit {
		return false, nil
	}
	c.count++
	return true, nil
}

// gc drops expired counters; called on window starts only.
func (l *MemoryLimiter) gc(now time.Time) {
	for k, c := range l.counters {
		if !now.Before(c.expiresAt) {
			delete(l.counters, k)
		}
	}
}

var _ Limiter = (*MemoryLimiter)(nil)
