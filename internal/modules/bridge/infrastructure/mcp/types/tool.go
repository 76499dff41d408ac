package types

import (
	"encoding/json"
	"fmt"
)

// TransportStdio 目前唯一支持的 transport
const TransportStdio = "stdio"

// ToolServerSpec 一个子进程 tool server 的启动描述，会话建立后不可变
type ToolServerSpec struct {
	Name      string
	Transport string
	Command   string
	Args      []string
	Env       map[string]string
}

// ToolDescriptor 工具描述符
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`

	// Server 注册该工具的 peer，RemoteName 为 peer 侧的原始工具名
	Server     string `json:"-"`
	RemoteName string `json:"-"`
}

// ToolCatalog 有序工具目录，顺序即跨 peer 的发现顺序，名称唯一
type ToolCatalog []ToolDescriptor

// Lookup 按名称查找工具
func (c ToolCatalog) Lookup(name string) (ToolDescriptor, bool) {
	for _, d := range c {
		if d.Name == name {
			return d, true
		}
	}
	return ToolDescriptor{}, false
}

func (c ToolCatalog) Names() []string {
	names := make([]string, 0, len(c))
	for _, d := range c {
		names = append(names, d.Name)
	}
	return names
}

// ResultStatus InvocationResult 的标签
type ResultStatus int

const (
	StatusSuccess ResultStatus = iota
	StatusTimeout
	StatusFailure
)

func (s ResultStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TimeoutCause 区分 inner（peer 调用超时）与 outer（提交/等待本身卡住）
type TimeoutCause string

const (
	CauseInner TimeoutCause = "inner"
	CauseOuter TimeoutCause = "outer"
)

// InvocationResult Success(value) | Timeout(cause) | Failure(kind, message)
type InvocationResult struct {
	Status  ResultStatus
	Value   interface{}
	Cause   TimeoutCause
	Kind    ErrorKind
	Message string
}

func Success(value interface{}) InvocationResult {
	return InvocationResult{Status: StatusSuccess, Value: value}
}

func Timeout(cause TimeoutCause, message string) InvocationResult {
	return InvocationResult{Status: StatusTimeout, Cause: cause, Kind: KindTimeout, Message: message}
}

func Failure(kind ErrorKind, message string) InvocationResult {
	if kind == "" {
		kind = KindFailure
	}
	return InvocationResult{Status: StatusFailure, Kind: kind, Message: message}
}

// FailureFromError 按错误分类构造 Failure
func FailureFromError(err error) InvocationResult {
	return Failure(KindOf(err), err.Error())
}

func (r InvocationResult) OK() bool {
	return r.Status == StatusSuccess
}

// Err 非 Success 时返回对应的 MCPError
func (r InvocationResult) Err() error {
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusTimeout:
		return NewMCPError(KindTimeout, ErrCodeTimeout, r.Message)
	default:
		return NewMCPError(r.Kind, ErrCodeToolExecFailed, r.Message)
	}
}

// Render 转成交给 agent runtime 的字符串：成功值非字符串时 JSON 编码，失败统一为 {"error": ...}
func (r InvocationResult) Render(toolName string) string {
	switch r.Status {
	case StatusSuccess:
		if s, ok := r.Value.(string); ok {
			return s
		}
		raw, err := json.Marshal(r.Value)
		if err != nil {
			return fmt.Sprint(r.Value)
		}
		return string(raw)
	case StatusTimeout:
		return encodeError(map[string]interface{}{
			"error": fmt.Sprintf("Tool '%s' timed out.", toolName),
			"kind":  string(KindTimeout),
			"cause": string(r.Cause),
		})
	default:
		return encodeError(map[string]interface{}{
			"error": fmt.Sprintf("Tool '%s' failed: %s", toolName, r.Message),
			"kind":  string(r.Kind),
		})
	}
}

func encodeError(body map[string]interface{}) string {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprint(body["error"])
	}
	return string(raw)
}
