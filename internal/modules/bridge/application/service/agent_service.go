package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"MCPBridge/internal/modules/bridge/infrastructure/mcp/types"
	"MCPBridge/internal/modules/bridge/infrastructure/pipeline"
	"MCPBridge/internal/modules/bridge/infrastructure/prompts"
	"MCPBridge/pkg/util"
	"MCPBridge/pkg/zlog"

	"github.com/cloudwego/eino/components/tool"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// AgentState agent 运行状态：Idle → Running → Done | Failed
type AgentState int

const (
	AgentIdle AgentState = iota
	AgentRunning
	AgentDone
	AgentFailed
)

func (s AgentState) String() string {
	switch s {
	case AgentIdle:
		return "idle"
	case AgentRunning:
		return "running"
	case AgentDone:
		return "done"
	case AgentFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AgentRun 一次 /chat 的运行记录
type AgentRun struct {
	ID         string
	Format     prompts.Format
	State      AgentState
	Tools      []string
	Result     string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// AgentRuntime 外部 agent 运行时：接收 system prompt 与工具集，返回文本结果
type AgentRuntime interface {
	Run(ctx context.Context, apiKey, systemPrompt, message string, tools []tool.BaseTool) (string, error)
}

// CatalogSource 提供当前工具目录快照
type CatalogSource interface {
	Catalog() types.ToolCatalog
}

// ChatCommand /chat 请求
type ChatCommand struct {
	Message string
	APIKey  string
	Format  string
}

// AgentService agent 调用外壳
type AgentService interface {
	Chat(ctx context.Context, cmd ChatCommand) (*AgentRun, error)
	Close()
}

type agentServiceImpl struct {
	runtime     AgentRuntime
	catalog     CatalogSource
	synthesizer *Synthesizer
	prefix      string
	workers     *pool.Pool
	slots       *semaphore.Weighted
	closeOnce   sync.Once
}

// NewAgentService 创建 agent 外壳，workers 为同时运行的 agent 数上限
func NewAgentService(runtime AgentRuntime, catalog CatalogSource, synthesizer *Synthesizer, interactivePrefix string, workers int) AgentService {
	if workers <= 0 {
		workers = 4
	}
	if interactivePrefix == "" {
		interactivePrefix = string(prompts.FormatDrawio)
	}
	return &agentServiceImpl{
		runtime:     runtime,
		catalog:     catalog,
		synthesizer: synthesizer,
		prefix:      interactivePrefix,
		workers:     pool.New().WithMaxGoroutines(workers),
		slots:       semaphore.NewWeighted(int64(workers)),
	}
}

// SelectCallables png 排除交互式 peer 的工具，drawio 只保留它们
func SelectCallables(format prompts.Format, callables []*Callable, interactivePrefix string) []*Callable {
	out := make([]*Callable, 0, len(callables))
	for _, c := range callables {
		interactive := strings.HasPrefix(c.Name(), interactivePrefix)
		if (format == prompts.FormatPNG) != interactive {
			out = append(out, c)
		}
	}
	return out
}

func (s *agentServiceImpl) Chat(ctx context.Context, cmd ChatCommand) (*AgentRun, error) {
	run := &AgentRun{
		ID:     util.GenerateUUID(),
		Format: prompts.ParseFormat(cmd.Format),
		State:  AgentIdle,
	}
	if strings.TrimSpace(cmd.Message) == "" {
		return run, types.NewMCPError(types.KindValidation, types.ErrCodeInvalidParams, "message is required")
	}

	var catalog types.ToolCatalog
	if s.catalog != nil {
		catalog = s.catalog.Catalog()
	}
	active := SelectCallables(run.Format, s.synthesizer.SynthesizeAll(catalog), s.prefix)
	tools := make([]tool.BaseTool, 0, len(active))
	for _, c := range active {
		tools = append(tools, c)
		run.Tools = append(run.Tools, c.Name())
	}
	systemPrompt := prompts.SystemPrompt(run.Format)

	// 先按 ctx 占用 worker 槽位，pool.Go 在满载时会无条件阻塞
	if err := s.slots.Acquire(ctx, 1); err != nil {
		run.State = AgentFailed
		run.Err = err
		run.FinishedAt = time.Now()
		zlog.Warn("agent run not started", zap.String("run_id", run.ID), zap.Error(err))
		return run, err
	}

	run.State = AgentRunning
	run.StartedAt = time.Now()
	zlog.Info("agent run started",
		zap.String("run_id", run.ID),
		zap.String("format", string(run.Format)),
		zap.Int("tools", len(tools)))

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	runCtx := pipeline.WithRunID(ctx, run.ID)
	s.workers.Go(func() {
		defer s.slots.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("agent panic: %v", r)}
			}
		}()
		text, err := s.runtime.Run(runCtx, cmd.APIKey, systemPrompt, cmd.Message, tools)
		done <- outcome{text: text, err: err}
	})

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = outcome{err: ctx.Err()}
	}

	run.FinishedAt = time.Now()
	if out.err != nil {
		run.State = AgentFailed
		run.Err = out.err
		zlog.Warn("agent run failed", zap.String("run_id", run.ID), zap.Error(out.err))
		return run, out.err
	}
	run.State = AgentDone
	run.Result = out.text
	zlog.Info("agent run done",
		zap.String("run_id", run.ID),
		zap.Int64("elapsed_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds()))
	return run, nil
}

// Close 等待仍在运行的 agent
func (s *agentServiceImpl) Close() {
	s.closeOnce.Do(s.workers.Wait)
}
