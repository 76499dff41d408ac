package types

import (
	"errors"
	"fmt"
)

// ErrorKind 错误分类
type ErrorKind string

const (
	KindConnection ErrorKind = "ConnectionError"
	KindProtocol   ErrorKind = "ProtocolError"
	KindTimeout    ErrorKind = "InvocationTimeout"
	KindFailure    ErrorKind = "InvocationFailure"
	KindValidation ErrorKind = "ValidationError"
)

// 常见错误代码（JSON-RPC 风格）
const (
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
	ErrCodeToolNotFound   = -32001
	ErrCodeToolExecFailed = -32002
	ErrCodeTimeout        = -32003
	ErrCodeNotConnected   = -32004
)

// MCPError MCP 错误类型
type MCPError struct {
	Kind    ErrorKind
	Code    int
	Message string
	Err     error
}

func (e *MCPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%d]: %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%d]: %s", e.Kind, e.Code, e.Message)
}

func (e *MCPError) Unwrap() error {
	return e.Err
}

// Is 同 Kind 即匹配；哨兵带 Code 时还要求 Code 相同
func (e *MCPError) Is(target error) bool {
	t, ok := target.(*MCPError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == 0 || t.Code == e.Code
}

// NewMCPError 创建 MCP 错误
func NewMCPError(kind ErrorKind, code int, message string) *MCPError {
	return &MCPError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// Wrap 包装底层错误
func Wrap(kind ErrorKind, code int, message string, err error) *MCPError {
	return &MCPError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// KindOf 取出错误分类，非 MCPError 视为 InvocationFailure
func KindOf(err error) ErrorKind {
	var me *MCPError
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindFailure
}

// 预定义错误，配合 errors.Is 使用
var (
	ErrConnection   = &MCPError{Kind: KindConnection}
	ErrProtocol     = &MCPError{Kind: KindProtocol}
	ErrTimeout      = &MCPError{Kind: KindTimeout}
	ErrFailure      = &MCPError{Kind: KindFailure}
	ErrValidation   = &MCPError{Kind: KindValidation}
	ErrNotConnected = &MCPError{Kind: KindConnection, Code: ErrCodeNotConnected}
)
