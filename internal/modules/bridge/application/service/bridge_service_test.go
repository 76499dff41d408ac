package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"MCPBridge/internal/modules/bridge/application/dto/request"
	"MCPBridge/internal/modules/bridge/infrastructure/mcp/types"
	"MCPBridge/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	catalog   types.ToolCatalog
	listErr   error
	closed    bool
	submitted []string
	result    types.InvocationResult
}

func (s *fakeSession) Submit(_ context.Context, name string, _ map[string]interface{}, _ time.Duration) (<-chan types.InvocationResult, error) {
	s.submitted = append(s.submitted, name)
	ch := make(chan types.InvocationResult, 1)
	ch <- s.result
	return ch, nil
}

func (s *fakeSession) Catalog() types.ToolCatalog {
	return s.catalog
}

func (s *fakeSession) ListTools(context.Context) (types.ToolCatalog, error) {
	return s.catalog, s.listErr
}

func (s *fakeSession) Connected() bool {
	return !s.closed
}

func codeOf(t *testing.T, err error) int {
	t.Helper()
	var ce *xerr.CodeError
	require.True(t, errors.As(err, &ce), "expected CodeError, got %v", err)
	return ce.Code
}

func TestBridgeHealth(t *testing.T) {
	svc := NewBridgeService(&fakeSession{catalog: types.ToolCatalog{{Name: "a"}, {Name: "b"}}}, nil, nil, 0)
	h := svc.Health(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.True(t, h.SessionConnected)
	assert.Equal(t, 2, h.ToolsLoaded)

	h = NewBridgeService(nil, nil, nil, 0).Health(context.Background())
	assert.False(t, h.SessionConnected)
	assert.Zero(t, h.ToolsLoaded)
}

func TestBridgeListTools(t *testing.T) {
	_, err := NewBridgeService(nil, nil, nil, 0).ListTools(context.Background())
	assert.Equal(t, http.StatusInternalServerError, codeOf(t, err))

	sess := &fakeSession{catalog: types.ToolCatalog{{Name: "drawio_x", Description: "d", InputSchema: map[string]interface{}{"type": "object"}}}}
	res, err := NewBridgeService(sess, nil, nil, 0).ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Tools, 1)
	assert.Equal(t, "drawio_x", res.Tools[0].Name)

	sess.listErr = types.NewMCPError(types.KindProtocol, types.ErrCodeInternalError, "peer gone")
	_, err = NewBridgeService(sess, nil, nil, 0).ListTools(context.Background())
	assert.Equal(t, http.StatusInternalServerError, codeOf(t, err))
}

func TestBridgeCallToolStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		result types.InvocationResult
		code   int
	}{
		{"failure", types.Failure(types.KindFailure, "boom"), http.StatusInternalServerError},
		{"inner timeout", types.Timeout(types.CauseInner, "slow"), http.StatusGatewayTimeout},
		{"outer timeout", types.Timeout(types.CauseOuter, "stuck"), http.StatusGatewayTimeout},
		{"validation", types.Failure(types.KindValidation, "bad"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewBridgeService(&fakeSession{result: tc.result}, nil, nil, 0)
			_, err := svc.CallTool(context.Background(), &request.CallToolRequest{Name: "x"})
			assert.Equal(t, tc.code, codeOf(t, err))
		})
	}

	sess := &fakeSession{result: types.Success([]interface{}{"ok"})}
	res, err := NewBridgeService(sess, nil, nil, 0).CallTool(context.Background(), &request.CallToolRequest{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"ok"}, res.Result)
	assert.Equal(t, []string{"x"}, sess.submitted)
}

func TestBridgeCallToolChecksNameBeforeSession(t *testing.T) {
	svc := NewBridgeService(nil, nil, nil, 0)

	_, err := svc.CallTool(context.Background(), &request.CallToolRequest{Name: ""})
	assert.Equal(t, http.StatusBadRequest, codeOf(t, err))

	_, err = svc.CallTool(context.Background(), &request.CallToolRequest{Name: "x"})
	assert.Equal(t, http.StatusInternalServerError, codeOf(t, err))

	closed := NewBridgeService(&fakeSession{closed: true}, nil, nil, 0)
	_, err = closed.CallTool(context.Background(), &request.CallToolRequest{Name: "x"})
	assert.Equal(t, http.StatusInternalServerError, codeOf(t, err))
}

func TestBridgeChat(t *testing.T) {
	always := func(string) bool { return true }
	never := func(string) bool { return false }
	agent := NewAgentService(&fakeRuntime{reply: "diagram saved"}, nil, NewSynthesizer(&recordingDispatcher{}), "drawio", 1)
	defer agent.Close()

	_, err := NewBridgeService(nil, agent, always, 0).Chat(context.Background(), &request.ChatRequest{})
	assert.Equal(t, http.StatusBadRequest, codeOf(t, err))

	_, err = NewBridgeService(nil, agent, never, 0).Chat(context.Background(), &request.ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusBadRequest, codeOf(t, err))

	res, err := NewBridgeService(nil, agent, always, 0).Chat(context.Background(), &request.ChatRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "diagram saved", res.Response)

	failing := NewAgentService(&fakeRuntime{err: errors.New("model down")}, nil, NewSynthesizer(&recordingDispatcher{}), "drawio", 1)
	defer failing.Close()
	_, err = NewBridgeService(nil, failing, always, 0).Chat(context.Background(), &request.ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusInternalServerError, codeOf(t, err))
}
