package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"agent-credit-api/pkg/logger"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond int
	// Burst 在每秒配额之外允许的突发请求数
	Burst     int
	KeyPrefix string
}

// RateLimiter 限流器
type RateLimiter interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, retryAfter time.Duration, err error)
}

// RateLimit 按 用户（未认证时按 IP）+ 路由 限流，限流器故障时放行
func RateLimit(cfg RateLimitConfig, limiter RateLimiter) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}

	limit := cfg.RequestsPerSecond
	if limit <= 0 {
		limit = 100
	}
	if cfg.Burst > 0 {
		limit += cfg.Burst
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ratelimit"
	}
	limitHeader := strconv.Itoa(limit)

	return func(c *gin.Context) {
		subject := c.GetString("user_id")
		if subject == "" {
			subject = "ip:" + c.ClientIP()
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		ctx := c.Request.Context()
		allowed, remaining, retryAfter, err := limiter.Take(ctx, prefix+":"+subject+":"+route, limit, time.Second)
		if err != nil {
			logger.Warn(ctx, "rate limiter unavailable", "error", err.Error())
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", limitHeader)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if allowed {
			c.Next()
			return
		}

		c.Header("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(retryAfter.Seconds())))))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"code":     http.StatusTooManyRequests,
			"message":  "rate limit exceeded",
			"trace_id": c.GetString("trace_id"),
		})
	}
}
