package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript implements the same token-bucket algorithm as Limiter,
// but atomically inside Redis so multiple hub instances share one set of
// buckets. Adapted from the sliding-window rate limiter Lua script the
// teacher repo uses for its own per-tenant limiting (internal/storage's
// CheckRateLimit): same atomic-pipeline discipline, different algorithm.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local capacity = tonumber(ARGV[1])
	local refill_rate = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local cost = tonumber(ARGV[4])
	local ttl = tonumber(ARGV[5])

	local data = redis.call('HMGET', key, 'tokens', 'ts')
	local tokens = tonumber(data[1])
	local ts = tonumber(data[2])
	if tokens == nil then
		tokens = capacity
		ts = now
	end

	local elapsed = math.max(0, now - ts)
	tokens = math.min(capacity, tokens + elapsed * refill_rate)

	local allowed = 0
	if tokens >= cost then
		tokens = tokens - cost
		allowed = 1
	end

	redis.call('HMSET', key, 'tokens', tokens, 'ts', now)
	redis.call('PEXPIRE', key, ttl)

	return {allowed, tostring(tokens)}
`)

// RedisLimiter is a distributed token-bucket limiter backed by Redis,
// for deployments running more than one hub process behind a shared cache.
type RedisLimiter struct {
	client     *redis.Client
	capacity   float64
	refillRate float64
	keyPrefix  string
	disabled   bool
}

func NewRedisLimiter(client *redis.Client, capacity, refillRate float64, keyPrefix string) *RedisLimiter {
	return &RedisLimiter{
		client:     client,
		capacity:   capacity,
		refillRate: refillRate,
		keyPrefix:  keyPrefix,
		disabled:   refillRate == 0,
	}
}

func (r *RedisLimiter) TryAcquire(ctx context.Context, key string, cost float64, now time.Time) (Result, error) {
	if r.disabled {
		return Result{Allowed: true}, nil
	}

	ttl := time.Duration(r.capacity/r.refillRate*float64(time.Second)) + time.Minute
	res, err := tokenBucketScript.Run(ctx, r.client, []string{r.keyPrefix + key},
		r.capacity, r.refillRate, float64(now.UnixMilli())/1000.0, cost, ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: token bucket script: %w", err)
	}

	fields, ok := res.([]any)
	if !ok || len(fields) != 2 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script result shape")
	}
	allowed, _ := fields[0].(int64)
	if allowed == 1 {
		return Result{Allowed: true}, nil
	}
	retryAfter := time.Duration((cost/r.refillRate)*float64(time.Second)) + time.Millisecond
	return Result{Allowed: false, RetryAfterMS: retryAfter.Milliseconds()}, nil
}
