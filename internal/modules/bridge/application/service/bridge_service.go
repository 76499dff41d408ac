package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"MCPBridge/internal/modules/bridge/application/dto/request"
	"MCPBridge/internal/modules/bridge/application/dto/respond"
	"MCPBridge/internal/modules/bridge/infrastructure/mcp/types"
	"MCPBridge/pkg/util"
	"MCPBridge/pkg/xerr"
	"MCPBridge/pkg/zlog"

	"go.uber.org/zap"
)

// 直接调用工具时 outer 比 inner 多留的余量，保证先得到 inner 超时
const httpOuterSlack = 5 * time.Second

// ToolSession 网关需要的会话能力，*session.Session 满足该接口
type ToolSession interface {
	Submitter
	CatalogSource
	ListTools(ctx context.Context) (types.ToolCatalog, error)
	Connected() bool
}

// BridgeService HTTP 网关服务
type BridgeService interface {
	Health(ctx context.Context) *respond.HealthRespond
	ListTools(ctx context.Context) (*respond.ToolListRespond, error)
	CallTool(ctx context.Context, req *request.CallToolRequest) (*respond.CallToolRespond, error)
	Chat(ctx context.Context, req *request.ChatRequest) (*respond.ChatRespond, error)
}

type bridgeServiceImpl struct {
	session     ToolSession
	dispatcher  MCPDispatcher
	agent       AgentService
	credentials func(apiKey string) bool
	callTimeout time.Duration
}

// NewBridgeService 创建网关服务；session 为 nil 表示尚未连接
func NewBridgeService(session ToolSession, agent AgentService, credentials func(apiKey string) bool, callTimeoutSeconds int) BridgeService {
	timeout := 120 * time.Second
	if callTimeoutSeconds > 0 {
		timeout = time.Duration(callTimeoutSeconds) * time.Second
	}
	var submitter Submitter
	if session != nil {
		submitter = session
	}
	return &bridgeServiceImpl{
		session:     session,
		dispatcher:  NewMCPDispatcher(submitter, 0, 0),
		agent:       agent,
		credentials: credentials,
		callTimeout: timeout,
	}
}

func (s *bridgeServiceImpl) connected() bool {
	return s.session != nil && s.session.Connected()
}

func (s *bridgeServiceImpl) Health(_ context.Context) *respond.HealthRespond {
	res := &respond.HealthRespond{Status: "ok"}
	if s.connected() {
		res.SessionConnected = true
		res.ToolsLoaded = len(s.session.Catalog())
	}
	return res
}

// ListTools 每次都向 peer 重新查询
func (s *bridgeServiceImpl) ListTools(ctx context.Context) (*respond.ToolListRespond, error) {
	if !s.connected() {
		return nil, xerr.ErrNotConnected
	}
	catalog, err := s.session.ListTools(ctx)
	if err != nil {
		zlog.Error("list tools failed", zap.Error(err))
		return nil, xerr.WithTrace(xerr.InternalServerError, err.Error(), xerr.CauseChain(err))
	}
	items := make([]respond.ToolItem, 0, len(catalog))
	for _, t := range catalog {
		items = append(items, respond.ToolItem{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return &respond.ToolListRespond{Tools: items}, nil
}

func (s *bridgeServiceImpl) CallTool(ctx context.Context, req *request.CallToolRequest) (*respond.CallToolRespond, error) {
	if req == nil || strings.TrimSpace(req.Name) == "" {
		return nil, xerr.New(xerr.BadRequest, "Tool name required")
	}
	if !s.connected() {
		return nil, xerr.ErrNotConnected
	}

	args := req.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	zlog.Info("call-tool request",
		zap.String("tool", req.Name),
		zap.String("args", util.Truncate(fmt.Sprint(args), 200)))

	res := s.dispatcher.Dispatch(ctx, &ToolCallRequest{
		ToolName:     req.Name,
		Arguments:    args,
		InnerTimeout: s.callTimeout,
		OuterTimeout: s.callTimeout + httpOuterSlack,
	})

	switch res.Status {
	case types.StatusSuccess:
		return &respond.CallToolRespond{Result: res.Value}, nil
	case types.StatusTimeout:
		return nil, xerr.WithTrace(xerr.GatewayTimeout, fmt.Sprintf("Tool '%s' timed out", req.Name), callTrace(req.Name, res))
	default:
		if res.Kind == types.KindValidation {
			return nil, xerr.New(xerr.BadRequest, res.Message)
		}
		return nil, xerr.WithTrace(xerr.InternalServerError, fmt.Sprintf("%s: %s", res.Kind, res.Message), callTrace(req.Name, res))
	}
}

// callTrace 失败调用的诊断信息：工具、结果分类与 peer 原始消息
func callTrace(name string, res types.InvocationResult) string {
	lines := []string{
		"tool: " + name,
		"status: " + res.Status.String(),
		"kind: " + string(res.Kind),
	}
	if res.Status == types.StatusTimeout {
		lines = append(lines, "cause: "+string(res.Cause)+" timeout")
	}
	if err := res.Err(); err != nil {
		lines = append(lines, "error: "+err.Error())
	}
	return strings.Join(lines, "\n")
}

func (s *bridgeServiceImpl) Chat(ctx context.Context, req *request.ChatRequest) (*respond.ChatRespond, error) {
	if req == nil || strings.TrimSpace(req.Message) == "" {
		return nil, xerr.New(xerr.BadRequest, "message is required")
	}
	if s.credentials == nil || !s.credentials(req.APIKey) {
		return nil, xerr.New(xerr.BadRequest, "apiKey is required. Set OPENAI_API_KEY or pass in request.")
	}
	if s.agent == nil {
		return nil, xerr.ErrServerError
	}

	run, err := s.agent.Chat(ctx, ChatCommand{
		Message: req.Message,
		APIKey:  req.APIKey,
		Format:  req.Format,
	})
	if err != nil {
		return nil, xerr.FromError(err)
	}
	return &respond.ChatRespond{Response: run.Result}, nil
}
