package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookrelay/internal/config"
)

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewTokenBucket(100, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		ok, err := l.Allow(ctx, "wh_1")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "wh_1")
	assert.False(t, ok)

	// 100 per minute refills one token every 600ms.
	now = now.Add(700 * time.Millisecond)
	ok, _ = l.Allow(ctx, "wh_1")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "wh_1")
	assert.False(t, ok)
}

func TestNew_SelectsDriver(t *testing.T) {
	tests := []struct {
		driver string
		want   any
	}{
		{driver: "", want: &FixedWindow{}},
		{driver: "memory", want: &FixedWindow{}},
		{driver: "token_bucket", want: &TokenBucket{}},
		{driver: "redis", want: &RedisFixedWindow{}},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			l, closeFn, err := New(config.RateLimitConfig{Driver: tt.driver, Redis: config.RedisConfig{Addr: "127.0.0.1:0"}})
			require.NoError(t, err)
			assert.IsType(t, tt.want, l)
			assert.NoError(t, closeFn())
		})
	}

	_, _, err := New(config.RateLimitConfig{Driver: "carrier-pigeon"})
	assert.Error(t, err)
}
