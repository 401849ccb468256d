// Package ratelimit 基于 Redis 的令牌桶限流，桶状态在多个实例间共享。
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "civicvoice:ratelimit:"

const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end
-- 并发调用的 now 可能乱序到达，ts 只前进不后退
now = math.max(ts, now)

local delta = now - ts
local refill = (delta * rate) / 1000.0
tokens = math.min(burst, tokens + refill)

local allowed = tokens >= requested
local wait_ms = 0
if allowed then
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", string.format("%.6f", tokens), "ts", string.format("%d", now))
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed and 1 or 0, wait_ms, tokens}
`

// Limiter 每个 key 一个桶：rate 为每秒补充的令牌数，burst 为桶容量。
type Limiter struct {
	rdb    *redis.Client
	scope  string
	rate   float64
	burst  float64
	logger *slog.Logger
	script *redis.Script
	now    func() time.Time
}

func NewLimiter(rdb *redis.Client, logger *slog.Logger, scope string, rate, burst float64) *Limiter {
	if scope == "" {
		scope = "default"
	}
	return &Limiter{
		rdb:    rdb,
		scope:  scope,
		rate:   rate,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
		now:    time.Now,
	}
}

// Scope 返回限流作用域名称。
func (l *Limiter) Scope() string {
	return l.scope
}

// Allow 尝试为 key 消耗一个令牌。被拒绝时返回需要等待的时长。
func (l *Limiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l == nil || l.rdb == nil || l.rate <= 0 || l.burst <= 0 {
		return true, 0, nil
	}
	allowed, waitMs, err := l.tryAcquire(ctx, l.bucketKey(key))
	if err != nil {
		return false, 0, err
	}
	if allowed {
		return true, 0, nil
	}
	wait := time.Duration(waitMs) * time.Millisecond
	if wait <= 0 {
		wait = time.Second
	}
	return false, wait, nil
}

func (l *Limiter) bucketKey(key string) string {
	return keyPrefix + l.scope + ":" + key
}

func (l *Limiter) tryAcquire(ctx context.Context, key string) (bool, int64, error) {
	now := l.now().UnixMilli()
	res, err := l.script.Run(ctx, l.rdb, []string{key}, l.rate, l.burst, now, 1).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result")
	}

	allowed := toInt64(values[0]) == 1
	waitMs := toInt64(values[1])
	return allowed, waitMs, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if t == "" {
			return 0
		}
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
