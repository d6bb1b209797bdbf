package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket refills limit tokens per window continuously instead of
// resetting at window edges.
type TokenBucket struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

func NewTokenBucket(limit int, window time.Duration) *TokenBucket {
	return &TokenBucket{
		limit:    rate.Limit(float64(limit) / window.Seconds()),
		burst:    limit,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	l.mu.RLock()
	limiter, ok := l.limiters[key]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		limiter, ok = l.limiters[key]
		if !ok {
			limiter = rate.NewLimiter(l.limit, l.burst)
			l.limiters[key] = limiter
		}
		l.mu.Unlock()
	}

	return limiter.AllowN(l.now(), 1), nil
}
