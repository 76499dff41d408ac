package back

import (
	"MCPBridge/pkg/xerr"

	"github.com/gin-gonic/gin"
)

// Success 成功返回，body 原样输出
func Success(c *gin.Context, data interface{}) {
	c.JSON(xerr.OK, data)
}

// Error 错误返回 {"error": message}
func Error(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

// ErrorWithTrace 错误返回并附带诊断信息
func ErrorWithTrace(c *gin.Context, code int, message, trace string) {
	body := gin.H{"error": message}
	if trace != "" {
		body["traceback"] = trace
	}
	c.AbortWithStatusJSON(code, body)
}

// Result 统一返回入口
func Result(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}
	e := xerr.FromError(err)
	ErrorWithTrace(c, e.Code, e.Message, e.Trace)
}
