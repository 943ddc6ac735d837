/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The first request of a window creates the counter and sets its expiration,
// so the window of a key starts with its first request just like in FixedWindowLimiter.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisFixedWindowLimiter is a fixed window limiter whose counters are shared by all replicas through Redis.
type RedisFixedWindowLimiter struct {
	client    redis.Scripter
	rate      Rate
	keyPrefix string
}

var _ Limiter = (*RedisFixedWindowLimiter)(nil)

// NewRedisFixedWindowLimiter creates a new Redis-backed fixed window limiter.
// keyPrefix separates counters of different policies stored in the same Redis database.
func NewRedisFixedWindowLimiter(client redis.Scripter, rate Rate, keyPrefix string) (*RedisFixedWindowLimiter, error) {
	if err := rate.validate(); err != nil {
		return nil, err
	}
	return &RedisFixedWindowLimiter{client: client, rate: rate, keyPrefix: keyPrefix}, nil
}

// Allow checks if the request should be allowed based on the rate limit.
func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string) (Result, error) {
	vals, err := fixedWindowScript.Run(ctx, l.client, []string{l.keyPrefix + key}, l.rate.Duration.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("run fixed window script: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("unexpected fixed window script result: %v", vals)
	}
	count, resetAfter := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	if count > l.rate.Count {
		return Result{Allowed: false, Limit: l.rate.Count, ResetAfter: resetAfter, RetryAfter: resetAfter}, nil
	}
	return Result{Allowed: true, Limit: l.rate.Count, Remaining: l.rate.Count - count, ResetAfter: resetAfter}, nil
}
