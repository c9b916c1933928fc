package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Chat   ChatConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Chat: chat}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr  string
	Debug bool
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	debug, err := parseBoolEnv("DEBUG", false)
	if err != nil {
		return ServerConfig{}, err
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "5000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":5000" 或 "127.0.0.1:5000"。
		return ServerConfig{Addr: port, Debug: debug}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, Debug: debug}, nil
}

// AIConfig 描述 YandexGPT 与 IAM 相关配置。
type AIConfig struct {
	ServiceAccountID  string
	KeyID             string
	FolderID          string
	PrivateKeyPath    string
	ModelURI          string
	IAMEndpoint       string
	BaseURL           string
	IAMTimeout        time.Duration
	CompletionTimeout time.Duration
	Temperature       *float64
	MaxTokens         *int
}

// Enabled 表示是否提供了服务账号凭证。
func (c AIConfig) Enabled() bool {
	return c.ServiceAccountID != "" && c.KeyID != "" && c.FolderID != ""
}

// ResolvedModelURI 返回显式配置的模型，否则使用 folder 下的 yandexgpt-lite。
func (c AIConfig) ResolvedModelURI() string {
	if c.ModelURI != "" {
		return c.ModelURI
	}
	if c.FolderID == "" {
		return ""
	}
	return fmt.Sprintf("gpt://%s/yandexgpt-lite/latest", c.FolderID)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("YANDEX_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("YANDEX_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	iamTimeout, err := parseSecondsEnv("YANDEX_IAM_TIMEOUT", 10)
	if err != nil {
		return AIConfig{}, err
	}

	completionTimeout, err := parseSecondsEnv("YANDEX_COMPLETION_TIMEOUT", 60)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		ServiceAccountID:  strings.TrimSpace(os.Getenv("SERVICE_ACCOUNT_ID")),
		KeyID:             strings.TrimSpace(os.Getenv("KEY_ID")),
		FolderID:          strings.TrimSpace(os.Getenv("FOLDER_ID")),
		PrivateKeyPath:    getEnvOrDefault("PRIVATE_KEY_PATH", "private-key.pem"),
		ModelURI:          strings.TrimSpace(os.Getenv("YAND_TEXT_MODEL_URI")),
		IAMEndpoint:       getEnvOrDefault("YANDEX_IAM_ENDPOINT", "https://iam.api.cloud.yandex.net/iam/v1/tokens"),
		BaseURL:           getEnvOrDefault("YANDEX_LLM_BASE_URL", "https://llm.api.cloud.yandex.net/foundationModels/v1"),
		IAMTimeout:        iamTimeout,
		CompletionTimeout: completionTimeout,
		Temperature:       temperature,
		MaxTokens:         maxTokens,
	}, nil
}

// ChatConfig 描述会话与聊天日志配置。
type ChatConfig struct {
	ContextTurns int
	HistoryLimit int
	LogPath      string
	ProxyEnabled bool
}

func loadChatConfig() (ChatConfig, error) {
	contextTurns := 10
	if override, err := parseOptionalIntEnv("CHAT_CONTEXT_TURNS"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 1 {
			contextTurns = 1
		} else {
			contextTurns = *override
		}
	}

	historyLimit := 100
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		historyLimit = *override
	}
	if historyLimit > 0 && historyLimit < contextTurns {
		historyLimit = contextTurns
	}

	proxy, err := parseBoolEnv("PROXY_ENABLED", true)
	if err != nil {
		return ChatConfig{}, err
	}

	return ChatConfig{
		ContextTurns: contextTurns,
		HistoryLimit: historyLimit,
		LogPath:      getEnvOrDefault("CHAT_LOG_PATH", "chat_logs.log"),
		ProxyEnabled: proxy,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseSecondsEnv(key string, defaultSeconds int) (time.Duration, error) {
	seconds, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if seconds == nil {
		return time.Duration(defaultSeconds) * time.Second, nil
	}
	if *seconds <= 0 {
		return 0, fmt.Errorf("invalid %s value %d: must be positive", key, *seconds)
	}
	return time.Duration(*seconds) * time.Second, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
