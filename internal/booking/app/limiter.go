package app

import (
	"sync"
	"time"
)

// intervalLimiter admits at most one event per key per interval.
type intervalLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

func newIntervalLimiter(interval time.Duration) *intervalLimiter {
	return &intervalLimiter{interval: interval, last: make(map[string]time.Time)}
}

func (l *intervalLimiter) Allow(key string, now time.Time) bool {
	if l == nil || l.interval <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.last[key]; ok && now.Sub(prev) < l.interval {
		return false
	}
	l.last[key] = now

	// keep the map bounded by dropping keys that can no longer block
	if len(l.last) > 10000 {
		for k, t := range l.last {
			if now.Sub(t) >= l.interval {
				delete(l.last, k)
			}
		}
	}
	return true
}
