package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultConfigPath 默认配置文件路径
const DefaultConfigPath = "configs/config_local.toml"

type MainConfig struct {
	AppName  string `toml:"appName"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	TLS      bool   `toml:"tls"`
	CertFile string `toml:"certFile"`
	KeyFile  string `toml:"keyFile"`
}

type LogConfig struct {
	LogPath    string `toml:"logPath"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"maxSizeMB"`
	MaxBackups int    `toml:"maxBackups"`
	MaxAgeDays int    `toml:"maxAgeDays"`
}

type AIChatModelConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureAPIVersion"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	MaxIterations   int    `toml:"maxIterations"`
}

type AIConfig struct {
	ChatModel AIChatModelConfig `toml:"chatModel"`
}

// MCPServerConfig 单个 MCP tool server 的启动配置
type MCPServerConfig struct {
	Name      string            `toml:"name"`
	Transport string            `toml:"transport"`
	Command   string            `toml:"command"`
	Args      []string          `toml:"args"`
	Env       map[string]string `toml:"env"`
}

// MCPConfig MCP 配置
type MCPConfig struct {
	ClientName               string            `toml:"clientName"`
	ClientVersion            string            `toml:"clientVersion"`
	ServerInitTimeoutSeconds int               `toml:"serverInitTimeoutSeconds"`
	ToolCallTimeoutSeconds   int               `toml:"toolCallTimeoutSeconds"`
	AgentInnerTimeoutSeconds int               `toml:"agentInnerTimeoutSeconds"`
	AgentOuterTimeoutSeconds int               `toml:"agentOuterTimeoutSeconds"`
	QueueSize                int               `toml:"queueSize"`
	AgentWorkers             int               `toml:"agentWorkers"`
	PrefixToolNames          bool              `toml:"prefixToolNames"`
	StrictSchema             bool              `toml:"strictSchema"`
	InteractivePrefix        string            `toml:"interactivePrefix"`
	Vars                     map[string]string `toml:"vars"`
	Servers                  []MCPServerConfig `toml:"servers"`
}

type Config struct {
	MainConfig `toml:"mainConfig"`
	LogConfig  `toml:"logConfig"`
	AIConfig   `toml:"aiConfig"`
	MCPConfig  `toml:"mcpConfig"`
}

var (
	config *Config
	mu     sync.Mutex
)

// Default 返回内置默认配置，与原先两个 tool server 的启动方式保持一致
func Default() *Config {
	return &Config{
		MainConfig: MainConfig{
			AppName: "MCPBridge",
			Host:    "127.0.0.1",
			Port:    8765,
		},
		LogConfig: LogConfig{
			Level:      "info",
			MaxSizeMB:  64,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		AIConfig: AIConfig{
			ChatModel: AIChatModelConfig{
				Provider:       "openai",
				Model:          "gpt-4o",
				TimeoutSeconds: 120,
				MaxIterations:  20,
			},
		},
		MCPConfig: MCPConfig{
			ClientName:               "mcp-bridge",
			ClientVersion:            "1.0.0",
			ServerInitTimeoutSeconds: 30,
			ToolCallTimeoutSeconds:   120,
			AgentInnerTimeoutSeconds: 60,
			AgentOuterTimeoutSeconds: 90,
			QueueSize:                64,
			AgentWorkers:             4,
			PrefixToolNames:          true,
			InteractivePrefix:        "drawio",
			Vars:                     map[string]string{"DRAWIO_PORT": "3334"},
			Servers: []MCPServerConfig{
				{
					Name:      "drawio",
					Transport: "stdio",
					Command:   "npx",
					Args:      []string{"-y", "drawio-mcp-server", "-p", "${DRAWIO_PORT}"},
				},
				{
					Name:      "aws_diagram",
					Transport: "stdio",
					Command:   "python",
					Args:      []string{"aws_diagram_wrapper.py"},
					Env:       map[string]string{"FASTMCP_LOG_LEVEL": "ERROR"},
				},
			},
		},
	}
}

// Load 读取 .env 与 toml 配置文件；文件缺失时使用默认配置
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	conf := Default()
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath
	}
	// servers 整体替换而不是逐项合并到默认值上
	defaultServers := conf.MCPConfig.Servers
	conf.MCPConfig.Servers = nil
	if _, err := toml.DecodeFile(path, conf); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		log.Printf("配置文件 %s 不存在, 使用默认设置", path)
	}
	if len(conf.MCPConfig.Servers) == 0 {
		conf.MCPConfig.Servers = defaultServers
	}
	applyEnv(conf)

	mu.Lock()
	config = conf
	mu.Unlock()
	return conf, nil
}

func applyEnv(conf *Config) {
	if v := strings.TrimSpace(os.Getenv("HOST")); v != "" {
		conf.MainConfig.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			conf.MainConfig.Port = port
		}
	}
	// OPENAI_* 只作用于 openai provider
	if conf.AIConfig.ChatModel.Provider == "" || conf.AIConfig.ChatModel.Provider == "openai" {
		if v := strings.TrimSpace(os.Getenv("OPENAI_MODEL")); v != "" {
			conf.AIConfig.ChatModel.Model = v
		}
		if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
			conf.AIConfig.ChatModel.BaseURL = v
		}
	}
}

// Expand 展开 ${VAR}：先查进程环境变量，再查 mcpConfig.vars
func (c *MCPConfig) Expand(s string) string {
	return os.Expand(s, func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return c.Vars[key]
	})
}

func GetConfig() *Config {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		config = Default()
	}
	return config
}
