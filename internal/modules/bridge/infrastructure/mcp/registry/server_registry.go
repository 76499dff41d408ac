package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"MCPBridge/internal/modules/bridge/infrastructure/mcp/types"
	"MCPBridge/pkg/zlog"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// Peer 一个已连接的 MCP tool server，*client.Client 满足该接口
type Peer interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusError   = "error"
)

// ServerRegistry MCP Server 注册表，保持注册顺序
type ServerRegistry struct {
	servers []*RegisteredServer
	byName  map[string]*RegisteredServer
	mu      sync.RWMutex
}

// RegisteredServer 已注册的 Server
type RegisteredServer struct {
	Name       string
	Transport  string
	Status     string // running | stopped | error
	Spec       types.ToolServerSpec
	ServerInfo mcp.Implementation
	Peer       Peer
}

// NewServerRegistry 创建 Server Registry
func NewServerRegistry() *ServerRegistry {
	return &ServerRegistry{
		byName: make(map[string]*RegisteredServer),
	}
}

// Register 注册已完成握手的 peer
func (r *ServerRegistry) Register(spec types.ToolServerSpec, info mcp.Implementation, peer Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[spec.Name]; exists {
		return fmt.Errorf("server '%s' already registered", spec.Name)
	}

	srv := &RegisteredServer{
		Name:       spec.Name,
		Transport:  spec.Transport,
		Status:     StatusRunning,
		Spec:       spec,
		ServerInfo: info,
		Peer:       peer,
	}
	r.servers = append(r.servers, srv)
	r.byName[spec.Name] = srv

	zlog.Info("MCP: registered server",
		zap.String("server", spec.Name),
		zap.String("peer_name", info.Name),
		zap.String("peer_version", info.Version))
	return nil
}

// GetServerByName 根据名称获取 Server
func (r *ServerRegistry) GetServerByName(name string) (*RegisteredServer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	srv, exists := r.byName[name]
	if !exists {
		return nil, fmt.Errorf("server '%s' not found", name)
	}

	return srv, nil
}

// ListServers 按注册顺序列出所有 Server
func (r *ServerRegistry) ListServers() []*RegisteredServer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	servers := make([]*RegisteredServer, len(r.servers))
	copy(servers, r.servers)
	return servers
}

// Len 已注册数量
func (r *ServerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// SetStatus 更新 Server 状态
func (r *ServerRegistry) SetStatus(name, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if srv, ok := r.byName[name]; ok {
		srv.Status = status
	}
}

// StopAll 逆序关闭所有 peer（子进程随之退出）。Close 只涉及本地资源，
// 单个失败不影响其余 peer
func (r *ServerRegistry) StopAll() error {
	servers := r.ListServers()

	var errs []error
	for i := len(servers) - 1; i >= 0; i-- {
		srv := servers[i]
		if err := srv.Peer.Close(); err != nil {
			zlog.Warn("MCP: failed to close server", zap.String("server", srv.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", srv.Name, err))
			r.SetStatus(srv.Name, StatusError)
			continue
		}
		r.SetStatus(srv.Name, StatusStopped)
	}

	if len(errs) > 0 {
		zlog.Warn("MCP: servers stopped with errors", zap.Int("servers", len(servers)), zap.Int("failed", len(errs)))
		return errors.Join(errs...)
	}
	zlog.Info("MCP: all servers stopped", zap.Int("servers", len(servers)))
	return nil
}
