package pipeline

import (
	"context"
	"fmt"

	"MCPBridge/internal/modules/bridge/infrastructure/llm"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
)

const defaultMaxIterations = 20

type TokenStats struct {
	PromptTokens int
	AnswerTokens int
	TotalTokens  int
}

type AgentRequest struct {
	RunID        string
	SystemPrompt string
	Message      string
}

type AgentResult struct {
	Answer     string
	ToolCalls  []string
	Iterations int
	TokenStats TokenStats
	Err        error
}

// AgentPipeline ChatModel ⇄ Tools 循环，直到模型不再请求工具
type AgentPipeline struct {
	chatModel     model.BaseChatModel
	chatMeta      llm.ChatModelMeta
	tools         []tool.BaseTool
	maxIterations int
	r             compose.Runnable[*AgentRequest, *AgentResult]
}

func NewAgentPipeline(chatModel model.BaseChatModel, chatMeta llm.ChatModelMeta, tools []tool.BaseTool, maxIterations int) (*AgentPipeline, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is nil")
	}
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	p := &AgentPipeline{
		chatModel:     chatModel,
		chatMeta:      chatMeta,
		tools:         tools,
		maxIterations: maxIterations,
	}
	ctx := context.Background()
	r, err := p.buildGraph(ctx)
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

func (p *AgentPipeline) Execute(ctx context.Context, req *AgentRequest) (*AgentResult, error) {
	if req == nil {
		return &AgentResult{Err: fmt.Errorf("request is nil")}, nil
	}
	result, err := p.r.Invoke(ctx, req)
	if err != nil {
		return &AgentResult{Err: err}, nil
	}
	return result, nil
}

func (p *AgentPipeline) buildGraph(ctx context.Context) (compose.Runnable[*AgentRequest, *AgentResult], error) {
	const (
		LoadContext = "LoadContext"
		BuildPrompt = "BuildPrompt"
		ChatModel   = "ChatModel"
		Tools       = "Tools"
		Finish      = "Finish"
	)

	g := compose.NewGraph[*AgentRequest, *AgentResult]()

	_ = g.AddLambdaNode(LoadContext, compose.InvokableLambdaWithOption(p.loadContextNode), compose.WithNodeName(LoadContext))
	_ = g.AddLambdaNode(BuildPrompt, compose.InvokableLambdaWithOption(p.buildPromptNode), compose.WithNodeName(BuildPrompt))
	_ = g.AddLambdaNode(ChatModel, compose.InvokableLambdaWithOption(p.chatModelNode), compose.WithNodeName(ChatModel))
	_ = g.AddLambdaNode(Tools, compose.InvokableLambdaWithOption(p.toolsNode), compose.WithNodeName(Tools))
	_ = g.AddLambdaNode(Finish, compose.InvokableLambdaWithOption(p.finishNode), compose.WithNodeName(Finish))

	_ = g.AddEdge(compose.START, LoadContext)
	_ = g.AddEdge(LoadContext, BuildPrompt)
	_ = g.AddEdge(BuildPrompt, ChatModel)

	shouldCallTools := func(ctx context.Context, st *agentState) (string, error) {
		hasToolCalls := st.Err == nil && st.LastResponse != nil && len(st.LastResponse.ToolCalls) > 0
		reachedMaxIterations := st.IterationCount >= st.MaxIterations
		if hasToolCalls && !reachedMaxIterations {
			return Tools, nil
		}
		return Finish, nil
	}

	branch := compose.NewGraphBranch(shouldCallTools, map[string]bool{
		Tools:  true,
		Finish: true,
	})

	_ = g.AddBranch(ChatModel, branch)
	_ = g.AddEdge(Tools, ChatModel)
	_ = g.AddEdge(Finish, compose.END)

	// 每轮 ChatModel + Tools 两步，另加首尾节点
	maxSteps := 2*p.maxIterations + 6
	return g.Compile(ctx,
		compose.WithGraphName("AgentPipeline"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
		compose.WithMaxRunSteps(maxSteps))
}

type runIDKey struct{}

// WithRunID 把 agent run id 带进 ctx，用于日志关联
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Runtime 每次请求用 Factory 构造 chat model 并运行一条 AgentPipeline
type Runtime struct {
	factory       llm.Factory
	maxIterations int
}

func NewRuntime(factory llm.Factory, maxIterations int) *Runtime {
	return &Runtime{factory: factory, maxIterations: maxIterations}
}

// Run 返回 agent 的最终文本
func (r *Runtime) Run(ctx context.Context, apiKey, systemPrompt, message string, tools []tool.BaseTool) (string, error) {
	cm, meta, err := r.factory(ctx, apiKey)
	if err != nil {
		return "", err
	}
	p, err := NewAgentPipeline(cm, meta, tools, r.maxIterations)
	if err != nil {
		return "", err
	}
	res, err := p.Execute(ctx, &AgentRequest{
		RunID:        RunIDFrom(ctx),
		SystemPrompt: systemPrompt,
		Message:      message,
	})
	if err != nil {
		return "", err
	}
	if res.Err != nil {
		return "", res.Err
	}
	return res.Answer, nil
}
