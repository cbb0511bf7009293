// Package ratelimit counts attempts per key in fixed windows.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter counts attempts against a key.
type Limiter interface {
	// Allow records one attempt and reports whether it is within the limit.
	Allow(ctx context.Context, key string) (bool, error)
	// Reset forgets every attempt recorded for key.
	Reset(ctx context.Context, key string) error
}

type window struct {
	count   int
	expires time.Time
}

// MemoryLimiter is a process-local Limiter. Each key's window starts at its
// first attempt.
type MemoryLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	now     func() time.Time
	entries map[string]*window
}

// NewMemoryLimiter allows maxAttempts attempts per key within each window.
func NewMemoryLimiter(maxAttempts int, w time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:     maxAttempts,
		window:  w,
		now:     time.Now,
		entries: make(map[string]*window),
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok || !now.Before(e.expires) {
		l.sweep(now)
		e = &window{expires: now.Add(l.window)}
		l.entries[key] = e
	}
	e.count++
	return e.count <= l.max, nil
}

// Reset implements Limiter.
func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

// sweep drops expired windows. Callers hold mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	for k, e := range l.entries {
		if !now.Before(e.expires) {
			delete(l.entries, k)
		}
	}
}
