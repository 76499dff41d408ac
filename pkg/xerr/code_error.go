package xerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"MCPBridge/internal/modules/bridge/infrastructure/mcp/types"
)

// CodeError 自定义错误结构，Code 即 HTTP 状态码
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Trace 诊断信息，非空时随 error 一起返回给调用方
	Trace string `json:"traceback,omitempty"`
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

// New 创建新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// WithTrace 创建携带诊断信息的 CodeError
func WithTrace(code int, msg, trace string) *CodeError {
	return &CodeError{Code: code, Message: msg, Trace: trace}
}

// CauseChain 把 Unwrap 链展开为多行文本，链上只有一层时返回空串
func CauseChain(err error) string {
	var lines []string
	for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
		lines = append(lines, "caused by: "+e.Error())
	}
	return strings.Join(lines, "\n")
}

// 常用通用错误码
const (
	OK                  = http.StatusOK
	BadRequest          = http.StatusBadRequest
	InternalServerError = http.StatusInternalServerError
	GatewayTimeout      = http.StatusGatewayTimeout
)

// 常用预定义错误
var (
	ErrServerError  = New(InternalServerError, "internal server error")
	ErrParam        = New(BadRequest, "invalid request body")
	ErrNotConnected = New(InternalServerError, "MCP not connected")
)

// FromError 把任意错误归一为 CodeError：MCPError 按 Kind 映射状态码，其余视为 500
func FromError(err error) *CodeError {
	if err == nil {
		return nil
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	var me *types.MCPError
	if errors.As(err, &me) {
		switch me.Kind {
		case types.KindValidation:
			return New(BadRequest, me.Message)
		case types.KindTimeout:
			return WithTrace(GatewayTimeout, me.Message, CauseChain(err))
		default:
			return WithTrace(InternalServerError, err.Error(), CauseChain(err))
		}
	}
	return WithTrace(InternalServerError, err.Error(), CauseChain(err))
}
