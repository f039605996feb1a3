package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// slidingWindowScript 在一次往返内完成清理、计数与登记
// 返回 {allowed, remaining, retry_after_us}
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local retry = window
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, 0, retry}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, math.ceil(window / 1000) * 2)
return {1, limit - count - 1, 0}
`)

// RateLimiter 基于有序集合的滑动窗口限流器
type RateLimiter struct {
	client *Client
}

// NewRateLimiter 创建限流器
func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Take 尝试在窗口内占用一次配额，被拒绝时 retryAfter 为最早一条记录滑出窗口的剩余时间
func (l *RateLimiter) Take(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, retryAfter time.Duration, err error) {
	ctx, span := tracer.Start(ctx, "redis.RateLimiter.Take")
	defer span.End()
	span.SetAttributes(
		attribute.String("ratelimit.key", key),
		attribute.Int("ratelimit.limit", limit),
	)

	now := time.Now().UnixMicro()
	vals, err := slidingWindowScript.Run(ctx, l.client.rdb, []string{key},
		now, window.Microseconds(), limit, fmt.Sprintf("%d-%s", now, uuid.NewString()[:8]),
	).Int64Slice()
	if err != nil {
		span.RecordError(err)
		return false, 0, 0, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(vals) != 3 {
		return false, 0, 0, fmt.Errorf("rate limit script returned %d values", len(vals))
	}

	allowed = vals[0] == 1
	remaining = int(vals[1])
	retryAfter = time.Duration(vals[2]) * time.Microsecond
	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", allowed),
		attribute.Int("ratelimit.remaining", remaining),
	)
	return allowed, remaining, retryAfter, nil
}
