package accesslog

import (
	"time"

	"MCPBridge/pkg/util"
	"MCPBridge/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestIDHeader 回写给调用方的请求 ID
const RequestIDHeader = "X-Request-Id"

func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = util.GenerateShortUUID()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= 500 {
			zlog.Warn("http request", fields...)
			return
		}
		zlog.Info("http request", fields...)
	}
}
