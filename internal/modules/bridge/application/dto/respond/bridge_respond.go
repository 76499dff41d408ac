package respond

type HealthRespond struct {
	Status           string `json:"status"`
	SessionConnected bool   `json:"sessionConnected"`
	ToolsLoaded      int    `json:"toolsLoaded"`
}

type ToolItem struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type ToolListRespond struct {
	Tools []ToolItem `json:"tools"`
}

type CallToolRespond struct {
	Result interface{} `json:"result"`
}

type ChatRespond struct {
	Response string `json:"response"`
}
