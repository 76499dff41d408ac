package zlog

import (
	"os"
	"strings"
	"sync"

	"MCPBridge/internal/config"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
	mu     sync.RWMutex
)

// Init 按 LogConfig 重建全局 logger：stdout 控制台输出，配置了 logPath 时额外写入滚动 JSON 文件
func Init(conf config.LogConfig) {
	level := zap.NewAtomicLevelAt(parseLevel(conf.Level))

	consoleEncoder := zap.NewDevelopmentEncoderConfig()
	consoleEncoder.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoder), zapcore.AddSync(os.Stdout), level),
	}

	if path := strings.TrimSpace(conf.LogPath); path != "" {
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    conf.MaxSizeMB,
			MaxBackups: conf.MaxBackups,
			MaxAge:     conf.MaxAgeDays,
			Compress:   true,
		}
		fileEncoder := zap.NewProductionEncoderConfig()
		fileEncoder.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoder), zapcore.AddSync(rotator), level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))

	mu.Lock()
	old := logger
	logger = l
	mu.Unlock()
	if old != nil {
		_ = old.Sync()
	}
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func get() *zap.Logger {
	once.Do(func() {
		mu.RLock()
		ready := logger != nil
		mu.RUnlock()
		if !ready {
			Init(config.GetConfig().LogConfig)
		}
	})
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// L 返回底层 zap.Logger，供需要 With/Named 的场景使用
func L() *zap.Logger {
	return get()
}

func Debug(msg string, fields ...zap.Field) {
	get().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	get().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	get().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	get().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	get().Fatal(msg, fields...)
}

// Sync 刷新缓冲日志，进程退出前调用
func Sync() {
	_ = get().Sync()
}
