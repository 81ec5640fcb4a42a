package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript checks the counter before incrementing, so rejected requests
// do not extend the window. Returns 1 when allowed, 0 when limited.
const allowScript = `
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return 0
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`

// RedisLimiter is a Limiter shared by every engine instance.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
}

// NewRedisLimiter creates a limiter on client.
// Non-positive values fall back to the defaults.
func NewRedisLimiter(client redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{client: client, limit: limit, window: window}
}

// Allow runs the check-and-increment script atomically.
// Store errors fail open.
func (l *RedisLimiter) Allow(ctx context.Context, copytraderID, pair string) (bool, error) {
	res, err := l.client.Eval(ctx, allowScript,
		[]string{key(copytraderID, pair)},
		l.limit, l.window.Milliseconds(),
	).Int()
	if err != nil {
		return true, fmt.Errorf("rate limit %s/%s: %w", copytraderID, pair, err)
	}
	return res == 1, nil
}

var _ Limiter = (*RedisLimiter)(nil)
