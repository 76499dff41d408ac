package initial

import (
	"context"
	"errors"
	"time"

	"MCPBridge/internal/config"
	"MCPBridge/internal/modules/bridge/application/service"
	bridgeHandler "MCPBridge/internal/modules/bridge/interface/http"
	"MCPBridge/internal/modules/bridge/infrastructure/llm"
	"MCPBridge/internal/modules/bridge/infrastructure/mcp/session"
	"MCPBridge/internal/modules/bridge/infrastructure/mcp/types"
	"MCPBridge/internal/modules/bridge/infrastructure/pipeline"
	"MCPBridge/pkg/zlog"

	"go.uber.org/zap"
)

// Bridge 进程级上下文：会话、合成器、agent 与 HTTP handler 在这里组装，
// 由 main 持有并显式传给各组件
type Bridge struct {
	Session     *session.Session
	Dispatcher  service.MCPDispatcher
	Synthesizer *service.Synthesizer
	Agent       service.AgentService
	Service     service.BridgeService
	Handler     *bridgeHandler.BridgeHandler
}

// Specs 把配置中的 server 列表展开为 ToolServerSpec，args / env 支持 ${VAR}
func Specs(conf *config.Config) []types.ToolServerSpec {
	mc := &conf.MCPConfig
	specs := make([]types.ToolServerSpec, 0, len(mc.Servers))
	for _, s := range mc.Servers {
		args := make([]string, 0, len(s.Args))
		for _, a := range s.Args {
			args = append(args, mc.Expand(a))
		}
		env := make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			env[k] = mc.Expand(v)
		}
		specs = append(specs, types.ToolServerSpec{
			Name:      s.Name,
			Transport: s.Transport,
			Command:   mc.Expand(s.Command),
			Args:      args,
			Env:       env,
		})
	}
	return specs
}

// Init 启动时调用一次：连接全部 peer 并拉取首份工具目录，任一 peer 失败即返回错误
func Init(ctx context.Context, conf *config.Config) (*Bridge, error) {
	if conf == nil {
		return nil, errors.New("initial: nil config")
	}
	mc := conf.MCPConfig

	sess, err := session.Connect(ctx, Specs(conf), session.Options{
		ClientName:      mc.ClientName,
		ClientVersion:   mc.ClientVersion,
		InitTimeout:     time.Duration(mc.ServerInitTimeoutSeconds) * time.Second,
		QueueSize:       mc.QueueSize,
		PrefixToolNames: mc.PrefixToolNames,
	})
	if err != nil {
		return nil, err
	}
	zlog.Info("MCP: servers ready", zap.Strings("servers", sess.Servers()))

	catalog, err := sess.ListTools(ctx)
	if err != nil {
		_ = sess.Close(context.Background())
		return nil, err
	}
	for _, t := range catalog {
		zlog.Info("MCP: tool loaded", zap.String("tool", t.Name), zap.String("server", t.Server))
	}
	zlog.Info("MCP: tools ready", zap.Int("count", len(catalog)))

	return assemble(conf, sess), nil
}

func assemble(conf *config.Config, sess *session.Session) *Bridge {
	mc := conf.MCPConfig
	inner := time.Duration(mc.AgentInnerTimeoutSeconds) * time.Second
	outer := time.Duration(mc.AgentOuterTimeoutSeconds) * time.Second

	dispatcher := service.NewMCPDispatcher(sess, mc.AgentInnerTimeoutSeconds, mc.AgentOuterTimeoutSeconds)
	synthesizer := service.NewSynthesizer(dispatcher,
		service.WithTimeouts(inner, outer),
		service.WithStrictSchema(mc.StrictSchema))

	runtime := pipeline.NewRuntime(llm.NewFactory(conf), conf.AIConfig.ChatModel.MaxIterations)
	agent := service.NewAgentService(runtime, sess, synthesizer, mc.InteractivePrefix, mc.AgentWorkers)

	credentials := func(apiKey string) bool {
		return llm.HasCredentials(conf, apiKey)
	}
	svc := service.NewBridgeService(sess, agent, credentials, mc.ToolCallTimeoutSeconds)

	return &Bridge{
		Session:     sess,
		Dispatcher:  dispatcher,
		Synthesizer: synthesizer,
		Agent:       agent,
		Service:     svc,
		Handler:     bridgeHandler.NewBridgeHandler(svc),
	}
}

// Shutdown 进程退出时调用一次，尽力关闭 agent 池与全部 peer
func (b *Bridge) Shutdown(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if b.Agent != nil {
		drained := make(chan struct{})
		go func() {
			b.Agent.Close()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			zlog.Warn("agent runs still active at shutdown")
		}
	}
	if b.Session == nil {
		return nil
	}
	if err := b.Session.Close(ctx); err != nil {
		zlog.Warn("MCP: session close failed", zap.Error(err))
		return err
	}
	zlog.Info("MCP: session closed")
	return nil
}
