package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	apperrors "agent-credit-api/pkg/errors"
	"agent-credit-api/pkg/logger"
)

// Recovery Panic 恢复中间件，响应体与 dto.ErrorResponse 同形
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					fmt.Errorf("%v", r),
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":     http.StatusInternalServerError,
					"message":  "internal server error",
					"error":    gin.H{"error_code": string(apperrors.CodeInternalError)},
					"trace_id": c.GetString("trace_id"),
				})
			}
		}()

		c.Next()
	}
}
