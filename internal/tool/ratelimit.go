package tool

import (
	"sync"
	"time"
)

// RateLimiter is a per-token bucket refilled continuously at the
// configured per-minute rate, with burst capacity equal to one minute's
// quota.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute float64
	buckets   map[string]*bucket
	now       func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMinute: float64(perMinute),
		buckets:   make(map[string]*bucket),
		now:       time.Now,
	}
}

// Allow consumes one token for the key, reporting whether the call may
// proceed. All calls with the same key share one bucket.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil || rl.perMinute <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.perMinute, last: now}
		rl.buckets[key] = b
	}
	elapsed := now.Sub(b.last).Minutes()
	b.tokens += elapsed * rl.perMinute
	if b.tokens > rl.perMinute {
		b.tokens = rl.perMinute
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
