package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"MCPBridge/internal/modules/bridge/infrastructure/mcp/normalize"
	"MCPBridge/internal/modules/bridge/infrastructure/mcp/registry"
	"MCPBridge/internal/modules/bridge/infrastructure/mcp/types"
	"MCPBridge/pkg/util"
	"MCPBridge/pkg/zlog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// Dialer 启动/连接一个 peer，返回尚未握手的连接
type Dialer func(ctx context.Context, spec types.ToolServerSpec) (registry.Peer, error)

// Options 会话参数
type Options struct {
	ClientName      string
	ClientVersion   string
	InitTimeout     time.Duration
	QueueSize       int
	PrefixToolNames bool
	Dialer          Dialer
}

func (o *Options) withDefaults() {
	if o.ClientName == "" {
		o.ClientName = "mcp-bridge"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "1.0.0"
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = 30 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.Dialer == nil {
		o.Dialer = StdioDialer
	}
}

// Session 一条复用到 N 个子进程 tool server 的长连接会话。
//
// 所有 peer 调用都由 loop 协程受理：调用方只能通过 Submit/ListTools 把工作单元
// 放进有界队列，由 loop 解析路由后发起。超时只释放调用方的等待，peer 侧的计算
// 不会被撤回，迟到的结果直接丢弃。
type Session struct {
	opts     Options
	registry *registry.ServerRegistry
	catalog  atomic.Pointer[snapshot]

	queue chan unit
	stop  chan struct{}
	done  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	inflight  conc.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

type snapshot struct {
	tools       types.ToolCatalog
	routes      map[string]route
	refreshedAt time.Time
}

type route struct {
	server     string
	remoteName string
}

// unit 队列中的工作单元，start 总在 loop 协程中执行
type unit interface {
	start(s *Session)
}

// Connect 启动并握手所有 peer；任何一个失败则关闭已建立的连接并返回 ConnectionError
func Connect(ctx context.Context, specs []types.ToolServerSpec, opts Options) (*Session, error) {
	opts.withDefaults()
	if err := validateSpecs(specs); err != nil {
		return nil, err
	}

	reg := registry.NewServerRegistry()
	for _, spec := range specs {
		if err := connectPeer(ctx, reg, spec, opts); err != nil {
			_ = reg.StopAll()
			return nil, err
		}
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:     opts,
		registry: reg,
		queue:    make(chan unit, opts.QueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      base,
		cancel:   cancel,
	}
	s.catalog.Store(&snapshot{routes: map[string]route{}})
	go s.loop()

	zlog.Info("MCP: session connected", zap.Int("servers", len(specs)))
	return s, nil
}

func validateSpecs(specs []types.ToolServerSpec) error {
	if len(specs) == 0 {
		return types.NewMCPError(types.KindConnection, types.ErrCodeNotConnected, "no tool servers configured")
	}
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return types.NewMCPError(types.KindConnection, types.ErrCodeInvalidParams, "tool server name is required")
		}
		if _, dup := seen[name]; dup {
			return types.NewMCPError(types.KindConnection, types.ErrCodeInvalidParams, fmt.Sprintf("duplicate tool server '%s'", name))
		}
		seen[name] = struct{}{}
		if spec.Transport != "" && spec.Transport != types.TransportStdio {
			return types.NewMCPError(types.KindConnection, types.ErrCodeInvalidParams,
				fmt.Sprintf("tool server '%s': unsupported transport '%s'", name, spec.Transport))
		}
	}
	return nil
}

func connectPeer(ctx context.Context, reg *registry.ServerRegistry, spec types.ToolServerSpec, opts Options) error {
	ctx, cancel := context.WithTimeout(ctx, opts.InitTimeout)
	defer cancel()

	peer, err := opts.Dialer(ctx, spec)
	if err != nil {
		return types.Wrap(types.KindConnection, types.ErrCodeNotConnected, fmt.Sprintf("launch tool server '%s'", spec.Name), err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    opts.ClientName,
		Version: opts.ClientVersion,
	}
	res, err := peer.Initialize(ctx, req)
	if err != nil {
		_ = peer.Close()
		return types.Wrap(types.KindConnection, types.ErrCodeNotConnected, fmt.Sprintf("handshake with tool server '%s'", spec.Name), err)
	}

	var info mcp.Implementation
	if res != nil {
		info = res.ServerInfo
	}
	if err := reg.Register(spec, info, peer); err != nil {
		_ = peer.Close()
		return types.Wrap(types.KindConnection, types.ErrCodeInvalidParams, "register tool server", err)
	}
	return nil
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case u := <-s.queue:
			u.start(s)
		case <-s.stop:
			s.drain()
			return
		}
	}
}

// drain 关闭时让仍在队列中的调用立即得到失败结果
func (s *Session) drain() {
	for {
		select {
		case u := <-s.queue:
			switch w := u.(type) {
			case *call:
				w.result <- types.Failure(types.KindConnection, "session closed")
			case *listing:
				w.result <- listOutcome{err: types.ErrNotConnected}
			}
		default:
			return
		}
	}
}

func (s *Session) enqueue(ctx context.Context, u unit) error {
	if s.closed.Load() {
		return types.NewMCPError(types.KindConnection, types.ErrCodeNotConnected, "session closed")
	}
	select {
	case s.queue <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stop:
		return types.NewMCPError(types.KindConnection, types.ErrCodeNotConnected, "session closed")
	}
}

// Connected 会话是否可用
func (s *Session) Connected() bool {
	return s != nil && !s.closed.Load() && s.registry.Len() > 0
}

// Servers 已连接 peer 的名称，按注册顺序
func (s *Session) Servers() []string {
	servers := s.registry.ListServers()
	names := make([]string, 0, len(servers))
	for _, srv := range servers {
		names = append(names, srv.Name)
	}
	return names
}

// Catalog 当前目录快照，不触发 peer I/O
func (s *Session) Catalog() types.ToolCatalog {
	snap := s.catalog.Load()
	out := make(types.ToolCatalog, len(snap.tools))
	copy(out, snap.tools)
	return out
}

// ---------- listTools ----------

type listing struct {
	ctx    context.Context
	result chan listOutcome
}

type listOutcome struct {
	catalog types.ToolCatalog
	err     error
}

func (l *listing) start(s *Session) {
	s.inflight.Go(func() {
		catalog, err := s.listTools(l.ctx)
		l.result <- listOutcome{catalog: catalog, err: err}
	})
}

// ListTools 查询所有 peer 并整体替换目录；任何 peer 失败则返回 ProtocolError，不产生部分目录
func (s *Session) ListTools(ctx context.Context) (types.ToolCatalog, error) {
	l := &listing{ctx: ctx, result: make(chan listOutcome, 1)}
	if err := s.enqueue(ctx, l); err != nil {
		return nil, wrapProtocol(err)
	}
	select {
	case out := <-l.result:
		return out.catalog, out.err
	case <-ctx.Done():
		return nil, wrapProtocol(ctx.Err())
	}
}

func wrapProtocol(err error) error {
	var me *types.MCPError
	if errors.As(err, &me) {
		return err
	}
	return types.Wrap(types.KindProtocol, types.ErrCodeInternalError, "list tools", err)
}

func (s *Session) listTools(ctx context.Context) (types.ToolCatalog, error) {
	catalog := make(types.ToolCatalog, 0)
	routes := make(map[string]route)
	index := make(map[string]int)

	for _, srv := range s.registry.ListServers() {
		tools, err := listPeerTools(ctx, srv.Peer)
		if err != nil {
			return nil, types.Wrap(types.KindProtocol, types.ErrCodeInternalError,
				fmt.Sprintf("list tools from server '%s'", srv.Name), err)
		}
		for _, t := range tools {
			desc, err := toDescriptor(t)
			if err != nil {
				return nil, types.Wrap(types.KindProtocol, types.ErrCodeInternalError,
					fmt.Sprintf("decode tool '%s' from server '%s'", t.Name, srv.Name), err)
			}
			desc.Server = srv.Name
			desc.RemoteName = t.Name
			if s.opts.PrefixToolNames {
				desc.Name = srv.Name + "_" + t.Name
			}

			if pos, dup := index[desc.Name]; dup {
				zlog.Warn("MCP: duplicate tool name, later server wins",
					zap.String("tool", desc.Name),
					zap.String("previous_server", catalog[pos].Server),
					zap.String("server", srv.Name))
				catalog[pos] = desc
			} else {
				index[desc.Name] = len(catalog)
				catalog = append(catalog, desc)
			}
			routes[desc.Name] = route{server: srv.Name, remoteName: t.Name}
		}
	}

	s.catalog.Store(&snapshot{tools: catalog, routes: routes, refreshedAt: time.Now()})
	zlog.Info("MCP: tool catalog refreshed", zap.Int("tools", len(catalog)))

	out := make(types.ToolCatalog, len(catalog))
	copy(out, catalog)
	return out, nil
}

func listPeerTools(ctx context.Context, peer registry.Peer) ([]mcp.Tool, error) {
	var tools []mcp.Tool
	req := mcp.ListToolsRequest{}
	for {
		res, err := peer.ListTools(ctx, req)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return tools, nil
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		req.Params.Cursor = res.NextCursor
	}
}

// toDescriptor 经由 JSON 取出 inputSchema，兼容 peer 下发的原始 schema
func toDescriptor(t mcp.Tool) (types.ToolDescriptor, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return types.ToolDescriptor{}, err
	}
	var wire struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		InputSchema map[string]interface{} `json:"inputSchema"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return types.ToolDescriptor{}, err
	}
	if wire.InputSchema == nil {
		wire.InputSchema = map[string]interface{}{"type": "object"}
	}
	return types.ToolDescriptor{
		Name:        wire.Name,
		Description: wire.Description,
		InputSchema: wire.InputSchema,
	}, nil
}

// ---------- callTool ----------

type call struct {
	id      string
	name    string
	args    map[string]interface{}
	timeout time.Duration
	result  chan types.InvocationResult
}

// start 在 loop 中按名称解析路由，目录刷新不会影响已合成的 callable
func (c *call) start(s *Session) {
	r, ok := s.catalog.Load().routes[c.name]
	if !ok {
		c.result <- types.Failure(types.KindFailure, fmt.Sprintf("Unknown tool: %s", c.name))
		return
	}
	srv, err := s.registry.GetServerByName(r.server)
	if err != nil {
		c.result <- types.FailureFromError(types.Wrap(types.KindFailure, types.ErrCodeToolNotFound, "route "+c.name, err))
		return
	}
	s.inflight.Go(func() {
		c.result <- s.callTool(srv, r.remoteName, c)
	})
}

// Submit 把一次调用放入会话队列，返回接收结果的 channel（缓冲为 1，迟到结果不会阻塞）
func (s *Session) Submit(ctx context.Context, name string, args map[string]interface{}, timeout time.Duration) (<-chan types.InvocationResult, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	c := &call{
		id:      util.GenerateShortUUID(),
		name:    name,
		args:    args,
		timeout: timeout,
		result:  make(chan types.InvocationResult, 1),
	}
	if err := s.enqueue(ctx, c); err != nil {
		return nil, err
	}
	return c.result, nil
}

// CallTool 提交并等待结果；ctx 结束视为 outer 超时
func (s *Session) CallTool(ctx context.Context, name string, args map[string]interface{}, timeout time.Duration) types.InvocationResult {
	ch, err := s.Submit(ctx, name, args, timeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.Timeout(types.CauseOuter, "submission timed out")
		}
		return types.FailureFromError(err)
	}
	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		return types.Timeout(types.CauseOuter, ctx.Err().Error())
	}
}

type peerOutcome struct {
	res *mcp.CallToolResult
	err error
}

func (s *Session) callTool(srv *registry.RegisteredServer, remoteName string, c *call) types.InvocationResult {
	start := time.Now()
	ctx, cancel := s.ctx, context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, c.timeout)
	}
	defer cancel()

	argsJSON, _ := json.Marshal(c.args)
	zlog.Info("MCP: calling tool",
		zap.String("call_id", c.id),
		zap.String("tool", c.name),
		zap.String("server", srv.Name),
		zap.String("args", util.Truncate(string(argsJSON), 200)))

	req := mcp.CallToolRequest{}
	req.Params.Name = remoteName
	req.Params.Arguments = c.args

	out := make(chan peerOutcome, 1)
	go func() {
		res, err := srv.Peer.CallTool(ctx, req)
		out <- peerOutcome{res: res, err: err}
	}()

	var result types.InvocationResult
	select {
	case o := <-out:
		result = toResult(ctx, o)
	case <-ctx.Done():
		if s.ctx.Err() != nil {
			result = types.Failure(types.KindConnection, "session closed")
		} else {
			result = types.Timeout(types.CauseInner, fmt.Sprintf("no response within %s", c.timeout))
		}
	}

	fields := []zap.Field{
		zap.String("call_id", c.id),
		zap.String("tool", c.name),
		zap.String("status", result.Status.String()),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	}
	if result.OK() {
		zlog.Info("MCP: tool call finished", append(fields, zap.String("result", util.Truncate(result.Render(c.name), 300)))...)
	} else {
		zlog.Warn("MCP: tool call failed", append(fields, zap.String("error", result.Message))...)
	}
	return result
}

func toResult(ctx context.Context, o peerOutcome) types.InvocationResult {
	if o.err != nil {
		if errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() != nil {
			return types.Timeout(types.CauseInner, o.err.Error())
		}
		return types.Failure(types.KindFailure, o.err.Error())
	}
	if o.res == nil {
		return types.Success(nil)
	}
	if o.res.IsError {
		return types.Failure(types.KindFailure, errorText(o.res))
	}
	return types.Success(normalize.Normalize(o.res))
}

func errorText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if text, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(parts, "\n")
}

// ---------- shutdown ----------

// Close 停止 loop、等待在途调用（受 ctx 限制）并关闭所有 peer；可重复调用。
// ctx 只约束等待在途调用，到期后仍会关闭全部 peer
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		<-s.done

		waited := make(chan struct{})
		go func() {
			s.inflight.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			zlog.Warn("MCP: in-flight calls still running at shutdown", zap.Error(ctx.Err()))
		}
		s.cancel()
		err = s.registry.StopAll()
	})
	return err
}
