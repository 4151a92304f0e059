package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and takes one token atomically. KEYS[1] is the
// bucket, ARGV: rate per second, burst, now in unix milliseconds. Returns 1
// when the request is admitted.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'tokens', 'updated')
local tokens = tonumber(state[1])
local updated = tonumber(state[2])
if tokens == nil then
  tokens = burst
  updated = now
end

local elapsed = (now - updated) / 1000.0
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'updated', now)
redis.call('PEXPIRE', key, math.ceil(burst / rate * 1000) * 2)
return allowed
`)

// RedisLimiter shares one token bucket per key across replicas. Redis
// unavailability fails open so a cache outage does not take ingest down.
type RedisLimiter struct {
	Client *redis.Client
	RPS    int
	Burst  int
	Prefix string
}

// NewRedisLimiter builds a distributed limiter.
func NewRedisLimiter(client *redis.Client, rps, burst int) *RedisLimiter {
	return &RedisLimiter{Client: client, RPS: rps, Burst: burst, Prefix: "intentd:ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	res, err := tokenBucketScript.Run(ctx, l.Client,
		[]string{l.Prefix + key},
		l.RPS, l.Burst, time.Now().UnixMilli()).Int()
	if err != nil {
		return true
	}
	return res == 1
}
