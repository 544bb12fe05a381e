package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript implements the same lazy-refill token bucket as the
// in-process Limiter, atomically, in Redis. KEYS[1] is the bucket key;
// ARGV are capacity, refill per second, cost, and current time in
// microseconds. Returns {allowed, remaining_millitokens, wait_ms}.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill   = tonumber(ARGV[2])
local cost     = tonumber(ARGV[3])
local now_us   = tonumber(ARGV[4])

local state  = redis.call('HMGET', KEYS[1], 'tokens', 'last_us')
local tokens = tonumber(state[1])
local last   = tonumber(state[2])
if tokens == nil then
  tokens = capacity
  last = now_us
end

local elapsed = (now_us - last) / 1000000
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * refill)
  last = now_us
end

local allowed = 0
local wait_ms = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait_ms = math.ceil((cost - tokens) / refill * 1000)
end

redis.call('HMSET', KEYS[1], 'tokens', tokens, 'last_us', last)
redis.call('EXPIRE', KEYS[1], math.ceil(capacity / refill) + 3600)
return {allowed, math.floor(tokens * 1000), wait_ms}
`)

// RedisLimiter is a Backend whose buckets live in Redis, so limits are
// shared by every process pointing at the same instance. Backend errors
// are returned to the caller, which is expected to fail open.
type RedisLimiter struct {
	rdb    *redis.Client
	limits map[string]Config
	def    Config
	prefix string
}

func NewRedisLimiter(rdb *redis.Client, limits map[string]Config, def Config) *RedisLimiter {
	if def.Capacity <= 0 {
		def = DefaultConfig()
	}
	return &RedisLimiter{rdb: rdb, limits: limits, def: def, prefix: "ratelimit:"}
}

func (l *RedisLimiter) TryConsume(ctx context.Context, limitType, key string, cost float64) (Decision, error) {
	cfg := l.def
	if c, ok := l.limits[limitType]; ok && c.Capacity > 0 && c.RefillPerSec > 0 {
		cfg = c
	}

	nowUS := time.Now().UnixMicro()
	res, err := tokenBucketScript.Run(ctx, l.rdb,
		[]string{l.prefix + limitType + ":" + key},
		cfg.Capacity, cfg.RefillPerSec, cost, nowUS,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis rate limit: unexpected reply %v", res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  float64(res[1]) / 1000,
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Ping reports backend reachability, used by health checks.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}
