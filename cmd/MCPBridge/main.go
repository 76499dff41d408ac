package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	https_server "MCPBridge/api/http"
	"MCPBridge/internal/config"
	"MCPBridge/internal/initial"
	"MCPBridge/pkg/zlog"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultConfigPath, "path to the toml config file")
	startupTimeout := pflag.Duration("startup-timeout", 2*time.Minute, "max time to launch and handshake all tool servers")
	pflag.Parse()

	// 1. 加载配置
	conf, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	zlog.Init(conf.LogConfig)
	defer zlog.Sync()

	// 2. 连接所有 tool server，失败则不对外服务
	ctx, cancel := context.WithTimeout(context.Background(), *startupTimeout)
	bridge, err := initial.Init(ctx, conf)
	cancel()
	if err != nil {
		zlog.Fatal("MCP 会话初始化失败", zap.Error(err))
	}

	// 3. 启动 HTTP 服务
	gin.SetMode(gin.ReleaseMode)
	addr := fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: https_server.NewEngine(conf, bridge.Handler),
	}
	go func() {
		zlog.Info(fmt.Sprintf("服务器正在启动，监听地址: %s", addr))
		var err error
		if conf.MainConfig.TLS {
			err = srv.ListenAndServeTLS(conf.MainConfig.CertFile, conf.MainConfig.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("服务器启动失败", zap.Error(err))
		}
	}()

	// 4. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("正在关闭服务器...")
	httpCtx, stopHTTP := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopHTTP()
	if err := srv.Shutdown(httpCtx); err != nil {
		zlog.Warn("HTTP 服务关闭异常", zap.Error(err))
	}
	// 会话单独计时，HTTP 排空耗尽预算时仍会关闭全部 tool server
	bridgeCtx, stopBridge := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopBridge()
	if err := bridge.Shutdown(bridgeCtx); err != nil {
		zlog.Warn("MCP 会话关闭异常", zap.Error(err))
	}
	zlog.Info("服务器已关闭")
}
