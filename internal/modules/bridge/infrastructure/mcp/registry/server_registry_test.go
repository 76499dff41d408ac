package registry

import (
	"context"
	"errors"
	"testing"

	"MCPBridge/internal/modules/bridge/infrastructure/mcp/types"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPeer struct {
	closeErr error
	closed   int
}

func (p *stubPeer) Initialize(context.Context, mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{}, nil
}

func (p *stubPeer) ListTools(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{}, nil
}

func (p *stubPeer) CallTool(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{}, nil
}

func (p *stubPeer) Close() error {
	p.closed++
	return p.closeErr
}

func TestRegisterKeepsOrderAndRejectsDuplicates(t *testing.T) {
	r := NewServerRegistry()
	assert.Zero(t, r.Len())

	require.NoError(t, r.Register(types.ToolServerSpec{Name: "drawio"}, mcp.Implementation{}, &stubPeer{}))
	require.NoError(t, r.Register(types.ToolServerSpec{Name: "aws_diagram"}, mcp.Implementation{}, &stubPeer{}))
	assert.Error(t, r.Register(types.ToolServerSpec{Name: "drawio"}, mcp.Implementation{}, &stubPeer{}))

	assert.Equal(t, 2, r.Len())
	servers := r.ListServers()
	assert.Equal(t, "drawio", servers[0].Name)
	assert.Equal(t, "aws_diagram", servers[1].Name)

	_, err := r.GetServerByName("missing")
	assert.Error(t, err)
}

func TestStopAllClosesEveryPeerDespiteFailures(t *testing.T) {
	r := NewServerRegistry()
	broken := &stubPeer{closeErr: errors.New("pipe already closed")}
	a, b := &stubPeer{}, &stubPeer{}
	require.NoError(t, r.Register(types.ToolServerSpec{Name: "a"}, mcp.Implementation{}, a))
	require.NoError(t, r.Register(types.ToolServerSpec{Name: "broken"}, mcp.Implementation{}, broken))
	require.NoError(t, r.Register(types.ToolServerSpec{Name: "b"}, mcp.Implementation{}, b))

	err := r.StopAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close broken")
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
	assert.Equal(t, 1, broken.closed)

	srv, _ := r.GetServerByName("broken")
	assert.Equal(t, StatusError, srv.Status)
	srv, _ = r.GetServerByName("a")
	assert.Equal(t, StatusStopped, srv.Status)
}
