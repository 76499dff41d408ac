package http

import (
	"MCPBridge/internal/config"
	"MCPBridge/internal/middleware/accesslog"
	"MCPBridge/internal/middleware/recovery"
	bridgeHandler "MCPBridge/internal/modules/bridge/interface/http"
	"MCPBridge/pkg/ssl"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewEngine 构造 gin 引擎并注册路由
func NewEngine(conf *config.Config, bridgeH *bridgeHandler.BridgeHandler) *gin.Engine {
	GE := gin.New()
	GE.Use(recovery.Recovery())
	GE.Use(accesslog.AccessLog())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	GE.Use(cors.New(corsConfig))
	if conf != nil && conf.MainConfig.TLS {
		GE.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))
	}

	GE.GET("/health", bridgeH.Health)
	GE.GET("/tools", bridgeH.ListTools)
	GE.POST("/call-tool", bridgeH.CallTool)
	GE.POST("/chat", bridgeH.Chat)
	return GE
}
