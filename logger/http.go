package logger

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPMiddleware 访问日志: 方法, 路径, 状态码, 耗时, 写出字节数, 客户端IP
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		l := L()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			l.Warn("http_access", append(attrs, "errors", c.Errors.String())...)
			return
		}
		l.Debug("http_access", attrs...)
	}
}
