package request

// CallToolRequest 直接调用工具请求
type CallToolRequest struct {
	Name      string                 `json:"name"`      // 工具名称（必填）
	Arguments map[string]interface{} `json:"arguments"` // 工具参数（可选）
}

// ChatRequest agent 对话请求
type ChatRequest struct {
	Message string `json:"message"` // 用户消息（必填）
	APIKey  string `json:"apiKey"`  // 覆盖配置中的 API Key（可选）
	Format  string `json:"format"`  // drawio / png，默认 drawio
}
