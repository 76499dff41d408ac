package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"MCPBridge/pkg/util"
	"MCPBridge/pkg/zlog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

type agentState struct {
	Req            *AgentRequest
	RunID          string
	PromptMsgs     []*schema.Message
	Answer         string
	Tokens         TokenStats
	Err            error
	IterationCount int
	MaxIterations  int
	LastResponse   *schema.Message
	ToolCalls      []string // 记录调用过的工具名称
}

func (p *AgentPipeline) loadContextNode(ctx context.Context, req *AgentRequest, _ ...any) (*agentState, error) {
	st := &agentState{
		Req:           req,
		RunID:         strings.TrimSpace(req.RunID),
		MaxIterations: p.maxIterations,
	}

	zlog.Info("agent run started",
		zap.String("run_id", st.RunID),
		zap.String("provider", p.chatMeta.Provider),
		zap.String("model", p.chatMeta.Model),
		zap.Int("tools", len(p.tools)),
		zap.Int("message_len", len(strings.TrimSpace(req.Message))))

	if strings.TrimSpace(req.Message) == "" {
		st.Err = fmt.Errorf("message is required")
		return st, nil
	}
	return st, nil
}

func (p *AgentPipeline) buildPromptNode(ctx context.Context, st *agentState, _ ...any) (*agentState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}

	if sp := strings.TrimSpace(st.Req.SystemPrompt); sp != "" {
		st.PromptMsgs = append(st.PromptMsgs, schema.SystemMessage(sp))
	}
	st.PromptMsgs = append(st.PromptMsgs, schema.UserMessage(st.Req.Message))
	return st, nil
}

func (p *AgentPipeline) toolInfos(ctx context.Context) []*schema.ToolInfo {
	var infos []*schema.ToolInfo
	for _, t := range p.tools {
		info, err := t.Info(ctx)
		if err == nil && info != nil {
			infos = append(infos, info)
		}
	}
	return infos
}

func (p *AgentPipeline) chatModelNode(ctx context.Context, st *agentState, _ ...any) (*agentState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}

	opts := []model.Option{}
	if infos := p.toolInfos(ctx); len(infos) > 0 {
		opts = append(opts, model.WithTools(infos))
	}

	st.IterationCount++
	resp, err := p.chatModel.Generate(ctx, st.PromptMsgs, opts...)
	if err != nil {
		st.Err = err
		return st, nil
	}

	st.LastResponse = resp
	st.Answer = resp.Content

	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		usage := resp.ResponseMeta.Usage
		st.Tokens.PromptTokens += usage.PromptTokens
		st.Tokens.AnswerTokens += usage.CompletionTokens
		st.Tokens.TotalTokens += usage.TotalTokens
	}

	zlog.Info("agent llm response",
		zap.String("run_id", st.RunID),
		zap.Int("iteration", st.IterationCount),
		zap.Int("tool_calls", len(resp.ToolCalls)),
		zap.Int("answer_len", len(resp.Content)))

	if len(resp.ToolCalls) > 0 {
		st.PromptMsgs = append(st.PromptMsgs, resp)
	}
	return st, nil
}

// toolsNode 顺序执行本轮的工具调用
func (p *AgentPipeline) toolsNode(ctx context.Context, st *agentState, _ ...any) (*agentState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}
	if st.LastResponse == nil || len(st.LastResponse.ToolCalls) == 0 {
		return st, nil
	}

	toolStart := time.Now()
	for _, tc := range st.LastResponse.ToolCalls {
		toolName := strings.TrimSpace(tc.Function.Name)
		st.ToolCalls = append(st.ToolCalls, toolName)

		toolResp := p.invokeTool(ctx, tc)
		st.PromptMsgs = append(st.PromptMsgs, toolResp)

		zlog.Info("agent tool executed",
			zap.String("run_id", st.RunID),
			zap.String("tool_name", toolName),
			zap.String("tool_result", util.Truncate(toolResp.Content, 200)))
	}

	zlog.Info("agent tools node done",
		zap.String("run_id", st.RunID),
		zap.Int("tools_executed", len(st.LastResponse.ToolCalls)),
		zap.Int64("tools_ms", time.Since(toolStart).Milliseconds()))
	return st, nil
}

func (p *AgentPipeline) invokeTool(ctx context.Context, tc schema.ToolCall) *schema.Message {
	toolName := strings.TrimSpace(tc.Function.Name)
	toolArgs := strings.TrimSpace(tc.Function.Arguments)

	for _, t := range p.tools {
		info, _ := t.Info(ctx)
		if info == nil || info.Name != toolName {
			continue
		}
		invokable, ok := t.(tool.InvokableTool)
		if !ok {
			return schema.ToolMessage(fmt.Sprintf(`{"error":"Tool '%s' is not invokable"}`, toolName), tc.ID)
		}
		result, err := invokable.InvokableRun(ctx, toolArgs)
		if err != nil {
			return schema.ToolMessage(fmt.Sprintf("Error: %v", err), tc.ID)
		}
		return schema.ToolMessage(result, tc.ID)
	}

	zlog.Warn("agent requested unknown tool", zap.String("tool_name", toolName), zap.Int("tools_available", len(p.tools)))
	return schema.ToolMessage(fmt.Sprintf(`{"error":"Tool '%s' not found"}`, toolName), tc.ID)
}

func (p *AgentPipeline) finishNode(ctx context.Context, st *agentState, _ ...any) (*AgentResult, error) {
	if st == nil {
		return &AgentResult{Err: fmt.Errorf("nil state")}, nil
	}
	if st.Err == nil && st.LastResponse != nil && len(st.LastResponse.ToolCalls) > 0 {
		st.Err = fmt.Errorf("agent stopped after %d iterations with pending tool calls", st.IterationCount)
	}

	if st.Err != nil {
		zlog.Warn("agent run failed", zap.String("run_id", st.RunID), zap.Error(st.Err))
	} else {
		zlog.Info("agent run completed",
			zap.String("run_id", st.RunID),
			zap.Int("iterations", st.IterationCount),
			zap.Strings("tool_calls", st.ToolCalls),
			zap.Int("answer_len", len(st.Answer)))
	}

	return &AgentResult{
		Answer:     st.Answer,
		ToolCalls:  st.ToolCalls,
		Iterations: st.IterationCount,
		TokenStats: st.Tokens,
		Err:        st.Err,
	}, nil
}
