package http

import (
	"MCPBridge/internal/modules/bridge/application/dto/request"
	"MCPBridge/internal/modules/bridge/application/service"
	"MCPBridge/pkg/back"
	"MCPBridge/pkg/xerr"
	"MCPBridge/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BridgeHandler 工具网关 HTTP Handler，只做参数绑定与响应输出
type BridgeHandler struct {
	svc service.BridgeService
}

// NewBridgeHandler 创建 Handler
func NewBridgeHandler(svc service.BridgeService) *BridgeHandler {
	return &BridgeHandler{svc: svc}
}

// Health 健康检查
//
//	GET /health
//
// Response:
//
//	{"status": "ok", "sessionConnected": true, "toolsLoaded": 12}
func (h *BridgeHandler) Health(c *gin.Context) {
	back.Success(c, h.svc.Health(c.Request.Context()))
}

// ListTools 列出所有 peer 的工具（实时查询）
//
//	GET /tools
//
// Response:
//
//	{"tools": [{"name": "drawio_add-rectangle", "description": "...", "inputSchema": {...}}]}
//
// 会话未就绪时返回 500 {"error": "MCP not connected"}
func (h *BridgeHandler) ListTools(c *gin.Context) {
	res, err := h.svc.ListTools(c.Request.Context())
	back.Result(c, res, err)
}

// CallTool 直接调用一个工具
//
//	POST /call-tool
//
// Request Body:
//
//	{"name": "aws_diagram_list_icons", "arguments": {}}
//
// Response:
//
//	{"result": ...}
//
// name 缺失 400；会话未就绪或工具失败 500；超时 504
func (h *BridgeHandler) CallTool(c *gin.Context) {
	var req request.CallToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zlog.Warn("call-tool bind failed", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	res, err := h.svc.CallTool(c.Request.Context(), &req)
	back.Result(c, res, err)
}

// Chat 由 agent 根据用户消息作图
//
//	POST /chat
//
// Request Body:
//
//	{"message": "画一个 S3 + Lambda 的架构图", "apiKey": "sk-...", "format": "drawio"}
//
// Response:
//
//	{"response": "..."}
func (h *BridgeHandler) Chat(c *gin.Context) {
	var req request.ChatRequest
	// 空 body 按空请求处理，由 service 返回 message is required
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			zlog.Warn("chat bind failed", zap.Error(err))
			back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
			return
		}
	}
	res, err := h.svc.Chat(c.Request.Context(), &req)
	back.Result(c, res, err)
}
