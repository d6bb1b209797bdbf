package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "hookrelay:rl:"

// INCR and set the expiry only when the key is new, in one round trip.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisFixedWindow shares fixed-window counters across every instance that
// talks to the same Redis.
type RedisFixedWindow struct {
	client redis.Scripter
	limit  int
	window time.Duration
}

func NewRedisFixedWindow(client redis.Scripter, limit int, window time.Duration) *RedisFixedWindow {
	return &RedisFixedWindow{client: client, limit: limit, window: window}
}

func (l *RedisFixedWindow) Allow(ctx context.Context, key string) (bool, error) {
	count, err := fixedWindowScript.Run(ctx, l.client, []string{keyPrefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis rate limit failed: %w", err)
	}
	return count <= int64(l.limit), nil
}
