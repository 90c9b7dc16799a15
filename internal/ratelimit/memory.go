package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a fixed-window limiter backed by an in-process map.
// Suitable only for single-instance deployments; expired windows are
// swept periodically.
type MemoryLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	limit    int
	interval time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter creates a limiter allowing limit requests per interval.
func NewMemoryLimiter(limit int, interval time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		windows:  make(map[string]*window),
		limit:    limit,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow consumes one slot in the caller's current window.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.interval)}
		return true, nil
	}
	if w.count >= l.limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// Close stops the background sweep.
func (l *MemoryLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *MemoryLimiter) sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
