package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"agent-credit-api/pkg/logger"
)

// AccessLog 请求访问日志，跳过健康检查与指标端点
func AccessLog(skipPaths ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range skipPaths {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				c.Next()
				return
			}
		}

		start := time.Now()
		c.Next()

		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
			"body_size", c.Writer.Size(),
		}
		if len(c.Errors) > 0 {
			args = append(args, "errors", c.Errors.String())
		}

		// user_id 由认证中间件写入 request context，此处使用最终的 context
		ctx := c.Request.Context()
		if c.Writer.Status() >= 500 {
			logger.Warn(ctx, "api request", args...)
			return
		}
		logger.Info(ctx, "api request", args...)
	}
}

// DefaultAccessLogSkipPaths 默认不记录访问日志的路径
var DefaultAccessLogSkipPaths = []string{
	"/health",
	"/ready",
	"/live",
	"/metrics",
}
