package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"HyvBase/internal/agent"
	"HyvBase/internal/api"
	"HyvBase/internal/auth"
	"HyvBase/internal/command"
	"HyvBase/internal/config"
	"HyvBase/internal/dex"
	"HyvBase/internal/history"
	"HyvBase/internal/llm"
	"HyvBase/internal/llm/openai"
	"HyvBase/internal/memory"
	"HyvBase/internal/observability/alerting"
	"HyvBase/internal/social"
	"HyvBase/internal/starknet"
	"HyvBase/internal/storage/mysql"
	"HyvBase/pkg/logger"
)

// main 是 hyvbased 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("hyvbased 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("HYVBASE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "hyvbase.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	llmClient := createLLMClient(cfg)

	historyRepo, err := createHistoryRepository(ctx, cfg, dataDir)
	if err != nil {
		return err
	}
	defer historyRepo.Close()

	memories, err := createMemoryManager(ctx, cfg, llmClient)
	if err != nil {
		return err
	}
	defer memories.Shutdown()

	gateway, err := createStarkNetGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer gateway.Close()

	tokenRegistry := dex.NewMainnetRegistry()
	tokenRegistry.SetMaxSlippage(cfg.StarkNet.MaxSlippage)

	tools, telegramTool, err := createTools(cfg, tokenRegistry, gateway)
	if err != nil {
		return err
	}

	ag := agent.New(agent.NewRegistry(tools...), tokenRegistry.Symbols(),
		agent.WithLLM(llmClient),
		agent.WithMemory(memories),
		agent.WithHistory(historyRepo),
		agent.WithPersonality(createPersonality(cfg)),
		agent.WithSecurityPolicy(agent.SecurityPolicy{
			MaxTransactionValue: cfg.Agent.MaxTransactionValue,
			AllowedChains:       cfg.Agent.AllowedChains,
			RequireConfirmation: cfg.Agent.ConfirmationRequired(),
		}),
		agent.WithMemoryDepth(cfg.Agent.MemoryDepth),
		agent.WithLLMTimeout(cfg.LLM.OpenAI.Timeout()),
	)

	commandStore, err := createCommandStore(cfg)
	if err != nil {
		return err
	}
	defer commandStore.Close()

	queue, err := createCommandQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭命令队列失败", "error", err)
		}
	}()

	commandService := command.NewService(commandStore, queue, cfg.Queue.Retries)

	processorOpts := []command.ProcessorOption{
		command.WithWorkerCount(cfg.Queue.Worker),
		command.WithProcessorLogger(logger.Named("processor")),
	}
	if dispatcher := createAlertDispatcher(cfg, telegramTool); dispatcher != nil {
		processorOpts = append(processorOpts, command.WithAlertDispatcher(dispatcher))
	}
	processor := command.NewProcessor(ag, commandStore, queue, queue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("命令处理器异常退出", "error", err)
		}
	}()

	serverOpts := make([]api.ServerOption, 0, 2)
	if len(cfg.Server.AllowedOrigins) > 0 {
		serverOpts = append(serverOpts, api.WithAllowedOrigins(cfg.Server.AllowedOrigins))
	}
	authService, closeAuth, err := createAuthService(ctx, cfg)
	if err != nil {
		return err
	}
	if closeAuth != nil {
		defer closeAuth()
	}
	if authService != nil {
		serverOpts = append(serverOpts, api.WithAuthService(authService))
	}

	server := api.NewServer(cfg.Server.Address, ag, commandService, serverOpts...)
	logger.L().Info("hyvbased 已启动", "address", cfg.Server.Address, "queue", cfg.Queue.Driver)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createLLMClient 构造大模型客户端。缺少凭证时返回 nil，
// 智能体只使用本地规则解析。
func createLLMClient(cfg *config.Config) llm.Client {
	if cfg.LLM.Provider != "openai" {
		logger.L().Warn("未知的大模型 provider，跳过初始化", "provider", cfg.LLM.Provider)
		return nil
	}
	apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
	if apiKey == "" {
		logger.L().Warn("未配置 OpenAI API Key，大模型回退与语义检索不可用")
		return nil
	}
	client, err := openai.NewClient(openai.Config{
		APIKey:         apiKey,
		BaseURL:        cfg.LLM.OpenAI.BaseURL,
		Model:          cfg.LLM.OpenAI.Model,
		EmbeddingModel: cfg.LLM.OpenAI.EmbeddingModel,
		Timeout:        cfg.LLM.OpenAI.Timeout(),
	})
	if err != nil {
		logger.L().Warn("初始化 OpenAI 客户端失败", "error", err)
		return nil
	}
	return client
}

func createHistoryRepository(ctx context.Context, cfg *config.Config, dataDir string) (history.Repository, error) {
	switch cfg.Storage.History.Driver {
	case "", "memory":
		return history.NewMemoryRepository(dataDir)
	case "mysql":
		return history.NewSQLRepository(ctx, history.SQLConfig{
			DSN:             cfg.Storage.History.DSN,
			MaxOpenConns:    cfg.Storage.History.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.History.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.History.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, errors.New("未知的历史存储驱动: " + cfg.Storage.History.Driver)
	}
}

// createMemoryManager 组装三层记忆。Redis 未配置时跳过短期层，
// 大模型缺失时跳过向量层。
func createMemoryManager(ctx context.Context, cfg *config.Config, llmClient llm.Client) (*memory.Manager, error) {
	var shortTerm *memory.ShortTermStore
	if cfg.Memory.RedisAddress != "" {
		store, err := memory.NewShortTermStore(ctx, memory.ShortTermConfig{
			Address:  cfg.Memory.RedisAddress,
			Password: cfg.Memory.RedisPassword,
			DB:       cfg.Memory.RedisDB,
			TTL:      time.Duration(cfg.Memory.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		shortTerm = store
	}

	var embedder memory.Embedder
	if llmClient != nil {
		embedder = llmClient
	}

	return memory.NewManager(memoryManagerConfig(cfg), shortTerm, embedder), nil
}

// memoryManagerConfig 把记忆配置映射为管理器参数，长期记忆的
// 保留时长决定后台清理协程是否启动。
func memoryManagerConfig(cfg *config.Config) memory.ManagerConfig {
	return memory.ManagerConfig{
		CacheSize:     cfg.Memory.CacheSize,
		VectorMaxSize: cfg.Memory.VectorMaxSize,
		SearchTopK:    cfg.Memory.SearchTopK,
		VectorMaxAge:  cfg.Memory.VectorMaxAge(),
	}
}

func createStarkNetGateway(ctx context.Context, cfg *config.Config) (*starknet.Client, error) {
	defs, err := starknet.LoadChainDefinitions(cfg.StarkNet.ChainConfig)
	if err != nil {
		return nil, err
	}

	chainCfg := starknet.Config{
		Name:     cfg.StarkNet.DefaultChain,
		RPCURL:   cfg.StarkNet.RPCURL,
		RelayURL: cfg.StarkNet.RelayURL,
	}
	if def, ok := defs.Chains[cfg.StarkNet.DefaultChain]; ok {
		chainCfg.RPCURL = def.RPCURL
		chainCfg.RelayURL = def.RelayURL
		chainCfg.Notes = def.Description
	}
	return starknet.NewClient(ctx, chainCfg)
}

// createTools 构建全部命令适配器。交易与转账工具始终注册，
// 社交工具在配置了凭证时注册。
func createTools(cfg *config.Config, registry *dex.Registry, gateway *starknet.Client) ([]agent.Tool, *social.TelegramTool, error) {
	avnu := dex.NewAVNUClient(dex.AVNUConfig{BaseURL: cfg.StarkNet.AVNUBaseURL})

	var account *big.Int
	if addr := strings.TrimSpace(cfg.StarkNet.AccountAddress); addr != "" {
		parsed, err := starknet.ParseFelt(addr)
		if err != nil {
			return nil, nil, err
		}
		account = parsed
	}

	swapTool := dex.NewSwapTool(registry, avnu, gateway, account, cfg.StarkNet.MaxSlippage)
	swapTool.SetRequireConfirmation(cfg.Agent.ConfirmationRequired())

	tools := []agent.Tool{
		swapTool,
		dex.NewTransferTool(registry, gateway, account),
	}

	if cfg.Social.Twitter.BearerToken != "" {
		tool, err := social.NewTwitterTool(social.TwitterConfig{
			BearerToken:       cfg.Social.Twitter.BearerToken,
			UserID:            cfg.Social.Twitter.UserID,
			BaseURL:           cfg.Social.Twitter.BaseURLOverride,
			Timeout:           time.Duration(cfg.Social.Twitter.TimeoutSeconds) * time.Second,
			RequestsPerMinute: float64(cfg.Social.Twitter.RatePerMinute),
		})
		if err != nil {
			return nil, nil, err
		}
		tools = append(tools, tool)
	}

	var telegramTool *social.TelegramTool
	if cfg.Social.Telegram.BotToken != "" {
		tool, err := social.NewTelegramTool(social.TelegramConfig{
			BotToken:          cfg.Social.Telegram.BotToken,
			DefaultChatID:     cfg.Social.Telegram.DefaultChatID,
			BaseURL:           cfg.Social.Telegram.BaseURLOverride,
			Timeout:           time.Duration(cfg.Social.Telegram.TimeoutSeconds) * time.Second,
			RequestsPerMinute: float64(cfg.Social.Telegram.RatePerMinute),
		})
		if err != nil {
			return nil, nil, err
		}
		telegramTool = tool
		tools = append(tools, tool)
	}
	return tools, telegramTool, nil
}

func createPersonality(cfg *config.Config) agent.Personality {
	personality := agent.DefaultPersonality()
	if cfg.Agent.Name != "" {
		personality.Name = cfg.Agent.Name
	}
	if cfg.Agent.Role != "" {
		personality.Role = cfg.Agent.Role
	}
	return personality
}

func createCommandStore(cfg *config.Config) (command.Store, error) {
	switch cfg.Storage.Commands.Driver {
	case "", "memory":
		return command.NewMemoryStore(), nil
	case "mysql":
		return command.NewMySQLStore(cfg.Storage.Commands.DSN)
	default:
		return nil, errors.New("未知的命令存储驱动: " + cfg.Storage.Commands.Driver)
	}
}

func createCommandQueue(cfg *config.Config) (command.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return command.NewMemoryQueue(1024), nil
	case "redis":
		return command.NewRedisQueue(command.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return command.NewRabbitMQQueue(command.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, errors.New("未知的队列驱动: " + cfg.Queue.Driver)
	}
}

// createAlertDispatcher 在配置了告警会话时复用 Telegram 机器人发送运维告警。
func createAlertDispatcher(cfg *config.Config, telegramTool *social.TelegramTool) alerting.Dispatcher {
	if telegramTool == nil || cfg.Social.Telegram.AlertChatID == "" {
		return nil
	}
	return alerting.NewFanout(&alerting.TelegramNotifier{
		Sender: telegramTool,
		ChatID: cfg.Social.Telegram.AlertChatID,
	})
}

func createAuthService(ctx context.Context, cfg *config.Config) (*auth.Service, func(), error) {
	if cfg.Auth.Mode == "" || cfg.Auth.Mode == string(auth.ModeDisabled) {
		return nil, nil, nil
	}

	seeds := make([]auth.Seed, 0, len(cfg.Auth.Seeds))
	for _, seed := range cfg.Auth.Seeds {
		seeds = append(seeds, auth.Seed{
			Username:    seed.Username,
			Password:    seed.Password,
			Roles:       seed.Roles,
			Permissions: seed.Permissions,
			Disabled:    seed.Disabled,
		})
	}

	var store auth.Store
	var closer func()
	switch cfg.Auth.Store {
	case "", "memory":
		memStore, err := auth.NewMemoryStore(nil)
		if err != nil {
			return nil, nil, err
		}
		store = memStore
	case "mysql":
		sqlStore, err := mysql.NewSQLAuthStore(ctx, mysql.Config{DSN: cfg.Auth.DSN})
		if err != nil {
			return nil, nil, err
		}
		store = sqlStore
		closer = func() { _ = sqlStore.Close() }
	default:
		return nil, nil, errors.New("未知的认证存储驱动: " + cfg.Auth.Store)
	}

	svc, err := auth.NewService(ctx, auth.Config{
		Mode: auth.Mode(cfg.Auth.Mode),
		JWT: auth.JWTOptions{
			Secret:    cfg.Auth.JWTSecret,
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
			AccessTTL: cfg.Auth.AccessTTLSeconds,
		},
		OAuth: auth.OAuthOptions{
			TokenURL:         cfg.Auth.OAuth.TokenURL,
			IntrospectionURL: cfg.Auth.OAuth.IntrospectionURL,
			ClientID:         cfg.Auth.OAuth.ClientID,
			ClientSecret:     cfg.Auth.OAuth.ClientSecret,
			Scopes:           cfg.Auth.OAuth.Scopes,
			TimeoutSeconds:   cfg.Auth.OAuth.TimeoutSeconds,
			UsernameClaim:    cfg.Auth.OAuth.UsernameClaim,
		},
		Seeds: seeds,
	}, store)
	if err != nil {
		if closer != nil {
			closer()
		}
		return nil, nil, err
	}
	return svc, closer, nil
}
