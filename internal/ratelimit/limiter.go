// Package ratelimit bounds inbound requests per webhook.
//
// FixedWindow keeps its counters in process memory, so N instances allow N
// times the configured limit between them. Use RedisFixedWindow when a global
// bound is required. Fixed windows also let up to twice the limit through
// around a window boundary; TokenBucket smooths that out.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shohag/hookrelay/internal/config"
)

const (
	DefaultLimit  = 100
	DefaultWindow = 60 * time.Second
)

// Limiter decides whether one more request for key fits in its quota.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// New builds the limiter selected by cfg.Driver.
func New(cfg config.RateLimitConfig) (Limiter, func() error, error) {
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	noop := func() error { return nil }

	switch cfg.Driver {
	case "", "memory":
		return NewFixedWindow(limit, window), noop, nil
	case "token_bucket":
		return NewTokenBucket(limit, window), noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisFixedWindow(client, limit, window), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported rate limit driver: %s", cfg.Driver)
	}
}
