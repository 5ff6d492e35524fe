// Package ratelimit throttles the credential-guessing surfaces of the
// command center: admin login and OTP verification. Counters live in redis
// so a restart does not reset an attacker's budget.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// INCR and PEXPIRE must be one atomic step, otherwise a client racing the
// first request of a window could leave a counter without expiry.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter allows at most limit requests per key per window.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration

	client *redis.Client
	prefix string
}

// NewRedisFixedWindowLimiter creates a redis-backed limiter under the given
// key prefix, one prefix per protected endpoint.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "shield:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
	}, nil
}

// Allow reports whether the key has quota left in the current window.
// Redis failures fail closed: a broken counter must not open the OTP
// endpoint to unlimited guessing.
func (l *FixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	windowMs := l.window.Milliseconds()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{l.windowKey(key)}, windowMs).Int64()
	if err != nil {
		return false
	}
	return count <= int64(l.limit)
}

func (l *FixedWindowLimiter) windowKey(key string) string {
	slot := time.Now().UTC().UnixMilli() / l.window.Milliseconds()
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
}
