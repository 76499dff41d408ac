package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"

	"MCPBridge/internal/modules/bridge/infrastructure/mcp/registry"
	"MCPBridge/internal/modules/bridge/infrastructure/mcp/types"
	"MCPBridge/pkg/zlog"

	"github.com/mark3labs/mcp-go/client"
	"go.uber.org/zap"
)

// StdioDialer 以子进程方式启动 tool server，stdin/stdout 走 JSON-RPC，stderr 转入日志
func StdioDialer(_ context.Context, spec types.ToolServerSpec) (registry.Peer, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("tool server '%s': command is required", spec.Name)
	}

	c, err := client.NewStdioMCPClient(spec.Command, environ(spec.Env), spec.Args...)
	if err != nil {
		return nil, err
	}

	if stderr, ok := client.GetStderr(c); ok {
		go pipeStderr(spec.Name, stderr)
	}

	zlog.Info("MCP: tool server launched",
		zap.String("server", spec.Name),
		zap.String("command", spec.Command),
		zap.Strings("args", spec.Args))
	return c, nil
}

// environ 生成 spec 中的附加变量（子进程另外继承当前环境），按 key 排序
func environ(extra map[string]string) []string {
	env := make([]string, 0, len(extra))
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func pipeStderr(server string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		zlog.Debug("MCP: server stderr", zap.String("server", server), zap.String("line", scanner.Text()))
	}
}
