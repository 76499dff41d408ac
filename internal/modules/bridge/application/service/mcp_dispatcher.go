package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MCPBridge/internal/modules/bridge/infrastructure/mcp/types"
	"MCPBridge/pkg/zlog"

	"go.uber.org/zap"
)

const (
	defaultInnerTimeout = 60 * time.Second
	defaultOuterTimeout = 90 * time.Second
)

// Submitter 会话侧的提交入口，*session.Session 满足该接口
type Submitter interface {
	Submit(ctx context.Context, name string, args map[string]interface{}, timeout time.Duration) (<-chan types.InvocationResult, error)
}

// MCPDispatcher 跨上下文调度器接口
type MCPDispatcher interface {
	// Dispatch 提交一次工具调用并在 outer 时限内等待结果，从不返回 error
	Dispatch(ctx context.Context, req *ToolCallRequest) types.InvocationResult
}

// ToolCallRequest 工具调用请求
type ToolCallRequest struct {
	ToolName     string                 // 工具名称 (必填)
	Arguments    map[string]interface{} // 工具参数
	InnerTimeout time.Duration          // 会话侧对 peer 调用的时限，0 表示使用默认值
	OuterTimeout time.Duration          // 调用方等待的上限，0 表示使用默认值
}

// mcpDispatcherImpl MCP 调度器实现
type mcpDispatcherImpl struct {
	submitter Submitter
	inner     time.Duration
	outer     time.Duration
}

// NewMCPDispatcher 创建 MCP Dispatcher
func NewMCPDispatcher(submitter Submitter, innerTimeoutSeconds, outerTimeoutSeconds int) MCPDispatcher {
	inner := defaultInnerTimeout
	if innerTimeoutSeconds > 0 {
		inner = time.Duration(innerTimeoutSeconds) * time.Second
	}
	outer := defaultOuterTimeout
	if outerTimeoutSeconds > 0 {
		outer = time.Duration(outerTimeoutSeconds) * time.Second
	}

	return &mcpDispatcherImpl{
		submitter: submitter,
		inner:     inner,
		outer:     outer,
	}
}

// Dispatch 调用指定工具
func (d *mcpDispatcherImpl) Dispatch(ctx context.Context, req *ToolCallRequest) (res types.InvocationResult) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error("MCP: dispatch panic", zap.Any("panic", r))
			res = types.Failure(types.KindFailure, fmt.Sprintf("panic: %v", r))
		}
	}()

	// 1. 参数校验
	if req == nil || req.ToolName == "" {
		return types.Failure(types.KindValidation, "tool name is required")
	}
	if d.submitter == nil {
		return types.Failure(types.KindConnection, "MCP not connected")
	}

	// 2. 设置超时
	inner, outer := d.inner, d.outer
	if req.InnerTimeout > 0 {
		inner = req.InnerTimeout
	}
	if req.OuterTimeout > 0 {
		outer = req.OuterTimeout
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, outer)
	defer cancel()

	// 3. 提交到会话 loop
	ch, err := d.submitter.Submit(ctxWithTimeout, req.ToolName, req.Arguments, inner)
	if err != nil {
		if ctxWithTimeout.Err() != nil {
			return d.expired(ctx, req.ToolName, outer)
		}
		return types.FailureFromError(err)
	}

	// 4. 等待结果；超时后迟到的结果由带缓冲的 channel 吸收
	select {
	case r := <-ch:
		return r
	case <-ctxWithTimeout.Done():
		return d.expired(ctx, req.ToolName, outer)
	}
}

func (d *mcpDispatcherImpl) expired(parent context.Context, name string, outer time.Duration) types.InvocationResult {
	if errors.Is(parent.Err(), context.Canceled) {
		return types.Failure(types.KindFailure, "call canceled")
	}
	zlog.Warn("MCP: dispatch outer timeout", zap.String("tool", name), zap.Duration("outer", outer))
	return types.Timeout(types.CauseOuter, fmt.Sprintf("no result within %s", outer))
}
