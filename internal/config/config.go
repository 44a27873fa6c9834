package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 描述了 HyvBase 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"command_queue"`
	LLM      LLMConfig      `json:"llm"`
	StarkNet StarkNetConfig `json:"starknet"`
	Social   SocialConfig   `json:"social"`
	Memory   MemoryConfig   `json:"memory"`
	Agent    AgentConfig    `json:"agent"`
	Auth     AuthConfig     `json:"auth"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string   `json:"address"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig 控制日志输出方式。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// StorageConfig 统一描述持久化后端。命令状态与交互历史分别落库，
// 命令存储未配置 DSN 时复用历史存储的连接串。
type StorageConfig struct {
	History  HistoryStoreConfig `json:"history"`
	Commands CommandStoreConfig `json:"commands"`
}

// CommandStoreConfig 描述异步命令状态的存储驱动。
type CommandStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// HistoryStoreConfig 支持 memory（本地 JSON 文件）与 mysql 两种驱动。
type HistoryStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// QueueConfig 描述异步命令管道使用的消息队列。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Retries  int            `json:"retries"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 连接参数，同时服务于队列与短期记忆。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LLMConfig 用于配置大模型推理与向量化的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	EmbeddingModel string `json:"embedding_model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回调用大模型的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StarkNetConfig 包含访问 StarkNet 节点与 AVNU 聚合器所需的参数。
type StarkNetConfig struct {
	ChainConfig    string  `json:"chain_config"`
	DefaultChain   string  `json:"default_chain"`
	RPCURL         string  `json:"rpc_url"`
	AccountAddress string  `json:"account_address"`
	RelayURL       string  `json:"relay_url"`
	AVNUBaseURL    string  `json:"avnu_base_url"`
	MaxSlippage    float64 `json:"max_slippage"`
}

// SocialConfig 汇总各社交渠道的凭证与速率限制。
type SocialConfig struct {
	Twitter  TwitterConfig  `json:"twitter"`
	Telegram TelegramConfig `json:"telegram"`
}

// TwitterConfig 描述 Twitter API v2 的访问凭证。
type TwitterConfig struct {
	BearerToken     string `json:"bearer_token"`
	BearerTokenEnv  string `json:"bearer_token_env"`
	UserID          string `json:"user_id"`
	RatePerMinute   int    `json:"rate_per_minute"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	BaseURLOverride string `json:"base_url"`
}

// TelegramConfig 描述 Telegram Bot API 的访问凭证。
// AlertChatID 配置后，运维告警会复用该机器人投递到指定会话。
type TelegramConfig struct {
	BotToken        string `json:"bot_token"`
	BotTokenEnv     string `json:"bot_token_env"`
	DefaultChatID   string `json:"default_chat_id"`
	AlertChatID     string `json:"alert_chat_id"`
	RatePerMinute   int    `json:"rate_per_minute"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	BaseURLOverride string `json:"base_url"`
}

// MemoryConfig 控制多级记忆的容量与过期策略。
type MemoryConfig struct {
	CacheSize     int    `json:"cache_size"`
	RedisAddress  string `json:"redis_address"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	TTLSeconds    int    `json:"ttl_seconds"`
	VectorMaxSize int    `json:"vector_max_size"`
	// VectorMaxAgeSeconds 控制长期记忆的保留时长，超龄条目由后台
	// 清理协程删除，0 表示永不过期。
	VectorMaxAgeSeconds int `json:"vector_max_age_seconds"`
	SearchTopK          int `json:"search_top_k"`
}

// VectorMaxAge 返回长期记忆的保留时长。
func (c MemoryConfig) VectorMaxAge() time.Duration {
	if c.VectorMaxAgeSeconds <= 0 {
		return 0
	}
	return time.Duration(c.VectorMaxAgeSeconds) * time.Second
}

// AgentConfig 控制智能体的行为边界。
type AgentConfig struct {
	Name                string   `json:"name"`
	Role                string   `json:"role"`
	MemoryDepth         int      `json:"memory_depth"`
	MaxTransactionValue float64  `json:"max_transaction_value"`
	AllowedChains       []string `json:"allowed_chains"`
	RequireConfirmation *bool    `json:"require_confirmation"`
}

// ConfirmationRequired 返回执行 swap/transfer 前是否需要用户确认。
func (c AgentConfig) ConfirmationRequired() bool {
	if c.RequireConfirmation == nil {
		return true
	}
	return *c.RequireConfirmation
}

// AuthConfig 控制 API 鉴权方式。Store 支持 memory 与 mysql 两种驱动，
// mysql 驱动未单独配置 DSN 时复用历史存储的连接串。
type AuthConfig struct {
	Mode             string      `json:"mode"`
	Store            string      `json:"store"`
	DSN              string      `json:"dsn"`
	JWTSecret        string      `json:"jwt_secret"`
	JWTSecretEnv     string      `json:"jwt_secret_env"`
	Issuer           string      `json:"issuer"`
	AccessTTLSeconds int64       `json:"access_ttl_seconds"`
	Seeds            []Seed      `json:"seeds"`
	Audience         []string    `json:"audience"`
	OAuth            OAuthConfig `json:"oauth"`
}

// OAuthConfig 描述委托给外部 OAuth2 服务时的参数。
type OAuthConfig struct {
	TokenURL         string   `json:"token_url"`
	IntrospectionURL string   `json:"introspection_url"`
	ClientID         string   `json:"client_id"`
	ClientSecret     string   `json:"client_secret"`
	ClientSecretEnv  string   `json:"client_secret_env"`
	Scopes           []string `json:"scopes"`
	TimeoutSeconds   int      `json:"timeout_seconds"`
	UsernameClaim    string   `json:"username_claim"`
}

// Seed 定义初始账户。
type Seed struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
	EnvFile string `json:"env_file"`
}

// Load 负责解析指定路径的 JSON 配置文件，并叠加 .env 中的环境变量。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	baseDir := filepath.Dir(path)
	cfg.applyDefaults(baseDir)

	// 原始部署习惯通过 .env 注入密钥，缺失时静默跳过。
	envFile := cfg.Runtime.EnvFile
	if !filepath.IsAbs(envFile) {
		envFile = filepath.Join(baseDir, envFile)
	}
	if _, statErr := os.Stat(envFile); statErr == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("加载环境变量文件失败: %w", err)
		}
	}
	cfg.resolveSecrets()

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Storage.History.Driver == "" {
		c.Storage.History.Driver = "memory"
	}
	if c.Storage.Commands.Driver == "" {
		c.Storage.Commands.Driver = c.Storage.History.Driver
	}
	if c.Storage.Commands.DSN == "" {
		c.Storage.Commands.DSN = c.Storage.History.DSN
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 4
	}
	if c.Queue.Retries <= 0 {
		c.Queue.Retries = 3
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}

	if c.StarkNet.RPCURL == "" {
		c.StarkNet.RPCURL = "https://starknet-mainnet.public.blastapi.io"
	}
	if c.StarkNet.MaxSlippage <= 0 {
		c.StarkNet.MaxSlippage = 1.0
	}
	if c.StarkNet.ChainConfig != "" && !filepath.IsAbs(c.StarkNet.ChainConfig) {
		c.StarkNet.ChainConfig = filepath.Join(baseDir, c.StarkNet.ChainConfig)
	}

	if c.Social.Twitter.RatePerMinute <= 0 {
		c.Social.Twitter.RatePerMinute = 60
	}
	if c.Social.Twitter.BearerTokenEnv == "" {
		c.Social.Twitter.BearerTokenEnv = "TWITTER_BEARER_TOKEN"
	}
	if c.Social.Telegram.RatePerMinute <= 0 {
		c.Social.Telegram.RatePerMinute = 30
	}
	if c.Social.Telegram.BotTokenEnv == "" {
		c.Social.Telegram.BotTokenEnv = "TELEGRAM_BOT_TOKEN"
	}

	if c.Memory.CacheSize <= 0 {
		c.Memory.CacheSize = 1000
	}
	if c.Memory.TTLSeconds <= 0 {
		c.Memory.TTLSeconds = 3600
	}
	if c.Memory.VectorMaxSize <= 0 {
		c.Memory.VectorMaxSize = 100000
	}
	if c.Memory.SearchTopK <= 0 {
		c.Memory.SearchTopK = 5
	}

	if c.Agent.Name == "" {
		c.Agent.Name = "Alex"
	}
	if c.Agent.Role == "" {
		c.Agent.Role = "DEX Trading Specialist"
	}
	if c.Agent.MemoryDepth <= 0 {
		c.Agent.MemoryDepth = 5
	}
	if len(c.Agent.AllowedChains) == 0 {
		c.Agent.AllowedChains = []string{"starknet"}
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.AccessTTLSeconds <= 0 {
		c.Auth.AccessTTLSeconds = 3600
	}
	if c.Auth.JWTSecretEnv == "" {
		c.Auth.JWTSecretEnv = "HYVBASE_JWT_SECRET"
	}
	if c.Auth.Store == "" {
		c.Auth.Store = "memory"
	}
	if c.Auth.OAuth.ClientSecretEnv == "" {
		c.Auth.OAuth.ClientSecretEnv = "HYVBASE_OAUTH_CLIENT_SECRET"
	}

	if c.Runtime.EnvFile == "" {
		c.Runtime.EnvFile = ".env"
	}
	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// resolveSecrets 将通过环境变量引用的密钥填充到配置中。
func (c *Config) resolveSecrets() {
	if c.LLM.OpenAI.APIKey == "" {
		c.LLM.OpenAI.APIKey = strings.TrimSpace(os.Getenv(c.LLM.OpenAI.APIKeyEnv))
	}
	if c.Social.Twitter.BearerToken == "" {
		c.Social.Twitter.BearerToken = strings.TrimSpace(os.Getenv(c.Social.Twitter.BearerTokenEnv))
	}
	if c.Social.Telegram.BotToken == "" {
		c.Social.Telegram.BotToken = strings.TrimSpace(os.Getenv(c.Social.Telegram.BotTokenEnv))
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = strings.TrimSpace(os.Getenv(c.Auth.JWTSecretEnv))
	}
	if c.Auth.OAuth.ClientSecret == "" {
		c.Auth.OAuth.ClientSecret = strings.TrimSpace(os.Getenv(c.Auth.OAuth.ClientSecretEnv))
	}
}
