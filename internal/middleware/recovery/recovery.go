package recovery

import (
	"fmt"
	"runtime/debug"

	"MCPBridge/pkg/back"
	"MCPBridge/pkg/xerr"
	"MCPBridge/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery 兜底：任何 panic 都以 500 {"error","traceback"} 返回
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		trace := string(debug.Stack())
		msg := fmt.Sprintf("Internal: %v", recovered)
		zlog.Error("http panic recovered",
			zap.String("path", c.Request.URL.Path),
			zap.String("error", msg),
			zap.String("traceback", trace))
		back.ErrorWithTrace(c, xerr.InternalServerError, msg, trace)
	})
}
