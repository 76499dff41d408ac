package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"MCPBridge/internal/config"

	arkModel "github.com/cloudwego/eino-ext/components/model/ark"
	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

type ChatModelMeta struct {
	Provider string
	Model    string
}

// Factory 按请求构造 chat model，apiKey 非空时覆盖配置与环境变量
type Factory func(ctx context.Context, apiKey string) (model.BaseChatModel, ChatModelMeta, error)

// NewFactory 绑定配置
func NewFactory(conf *config.Config) Factory {
	return func(ctx context.Context, apiKey string) (model.BaseChatModel, ChatModelMeta, error) {
		return NewChatModelFromConfig(ctx, conf, apiKey)
	}
}

func providerOf(conf *config.Config) string {
	return strings.ToLower(strings.TrimSpace(conf.AIConfig.ChatModel.Provider))
}

// ResolveAPIKey 依次取请求参数、配置文件、环境变量
func ResolveAPIKey(conf *config.Config, override string) string {
	if k := strings.TrimSpace(override); k != "" {
		return k
	}
	if conf == nil {
		return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if k := strings.TrimSpace(conf.AIConfig.ChatModel.APIKey); k != "" {
		return k
	}
	if providerOf(conf) == "ark" {
		return strings.TrimSpace(os.Getenv("ARK_API_KEY"))
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

// HasCredentials 是否能构造出 chat model（ark 也接受 accessKey/secretKey）
func HasCredentials(conf *config.Config, override string) bool {
	if ResolveAPIKey(conf, override) != "" {
		return true
	}
	if conf == nil || providerOf(conf) != "ark" {
		return false
	}
	accessKey, secretKey := arkKeys(conf)
	return accessKey != "" && secretKey != ""
}

func arkKeys(conf *config.Config) (string, string) {
	accessKey := strings.TrimSpace(conf.AIConfig.ChatModel.AccessKey)
	secretKey := strings.TrimSpace(conf.AIConfig.ChatModel.SecretKey)
	if accessKey == "" {
		accessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
	}
	if secretKey == "" {
		secretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
	}
	return accessKey, secretKey
}

func NewChatModelFromConfig(ctx context.Context, conf *config.Config, apiKeyOverride string) (model.BaseChatModel, ChatModelMeta, error) {
	if conf == nil {
		return nil, ChatModelMeta{}, fmt.Errorf("nil config")
	}

	provider := providerOf(conf)
	modelName := strings.TrimSpace(conf.AIConfig.ChatModel.Model)

	timeout := 2 * time.Minute
	if conf.AIConfig.ChatModel.TimeoutSeconds > 0 {
		timeout = time.Duration(conf.AIConfig.ChatModel.TimeoutSeconds) * time.Second
	}

	switch provider {
	case "", "disabled", "none":
		return nil, ChatModelMeta{}, fmt.Errorf("chat model provider not configured")

	case "openai":
		apiKey := ResolveAPIKey(conf, apiKeyOverride)
		if modelName == "" {
			modelName = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
		}
		baseURL := strings.TrimSpace(conf.AIConfig.ChatModel.BaseURL)
		if baseURL == "" {
			baseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
		}

		if apiKey == "" || modelName == "" {
			return nil, ChatModelMeta{}, fmt.Errorf("openai chat model missing apiKey/model")
		}

		cm, err := openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
			APIKey:     apiKey,
			Model:      modelName,
			BaseURL:    baseURL,
			ByAzure:    conf.AIConfig.ChatModel.ByAzure,
			APIVersion: strings.TrimSpace(conf.AIConfig.ChatModel.AzureAPIVersion),
			Timeout:    timeout,
		})
		if err != nil {
			return nil, ChatModelMeta{}, err
		}
		return cm, ChatModelMeta{Provider: "openai", Model: modelName}, nil

	case "ark":
		apiKey := ResolveAPIKey(conf, apiKeyOverride)
		accessKey, secretKey := arkKeys(conf)
		if modelName == "" {
			modelName = strings.TrimSpace(os.Getenv("ARK_MODEL_ID"))
		}

		baseURL := strings.TrimSpace(conf.AIConfig.ChatModel.BaseURL)
		region := strings.TrimSpace(conf.AIConfig.ChatModel.Region)
		if baseURL == "" {
			baseURL = strings.TrimSpace(os.Getenv("ARK_BASE_URL"))
		}
		if region == "" {
			region = strings.TrimSpace(os.Getenv("ARK_REGION"))
		}

		if apiKey == "" && (accessKey == "" || secretKey == "") {
			return nil, ChatModelMeta{}, fmt.Errorf("ark chat model missing apiKey or accessKey/secretKey")
		}
		if modelName == "" {
			return nil, ChatModelMeta{}, fmt.Errorf("ark chat model missing model")
		}

		retryTimes := 2
		if conf.AIConfig.ChatModel.RetryTimes > 0 {
			retryTimes = conf.AIConfig.ChatModel.RetryTimes
		}

		cm, err := arkModel.NewChatModel(ctx, &arkModel.ChatModelConfig{
			APIKey:     apiKey,
			AccessKey:  accessKey,
			SecretKey:  secretKey,
			Model:      modelName,
			BaseURL:    baseURL,
			Region:     region,
			Timeout:    &timeout,
			RetryTimes: &retryTimes,
		})
		if err != nil {
			return nil, ChatModelMeta{}, err
		}
		return cm, ChatModelMeta{Provider: "ark", Model: modelName}, nil

	default:
		return nil, ChatModelMeta{}, fmt.Errorf("unknown chat model provider: %s", provider)
	}
}
