package web

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-matcher, per-client token bucket: each
// (matcher pattern, client id) pair gets its own limiter, lazily created
// on first request and reclaimed by Cleanup once its bucket is full
// again (a sign it has gone idle).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter returns an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a request from clientID against a matcher
// configured for requestsPerMinute/burst may proceed.
func (r *RateLimiter) Allow(matcherKey, clientID string, requestsPerMinute, burst int) bool {
	return r.limiterFor(matcherKey, clientID, requestsPerMinute, burst).Allow()
}

func (r *RateLimiter) limiterFor(matcherKey, clientID string, requestsPerMinute, burst int) *rate.Limiter {
	key := matcherKey + "|" + clientID

	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
		r.limiters[key] = l
	}
	return l
}

// Cleanup drops limiters whose bucket is currently full, a proxy for
// "unused since the last sweep interval". No scheduler job calls it.
func (r *RateLimiter) Cleanup(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, l := range r.limiters {
		if l.TokensAt(now) >= float64(l.Burst()) {
			delete(r.limiters, key)
			removed++
		}
	}
	return removed
}
