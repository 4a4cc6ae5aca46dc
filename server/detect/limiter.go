package detect

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IntervalLimiter enforces a minimum interval between emissions per key
// (machine id, or a single shared key for global streams). One token per
// interval, burst 1, so the first emission always passes.
type IntervalLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	r        rate.Limit
	b        int
}

// NewIntervalLimiter builds a limiter allowing one event per minInterval
// and key.
func NewIntervalLimiter(minInterval time.Duration) *IntervalLimiter {
	return &IntervalLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Every(minInterval),
		b:        1,
	}
}

// Allow reports whether the key may emit now.
func (l *IntervalLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	return limiter.Allow()
}
