package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"OpenAgent-Chain/internal/api"
	"OpenAgent-Chain/internal/auth"
	"OpenAgent-Chain/internal/config"
	"OpenAgent-Chain/internal/llm/openai"
	"OpenAgent-Chain/internal/pipeline"
	"OpenAgent-Chain/internal/profile"
	"OpenAgent-Chain/internal/run"
	"OpenAgent-Chain/internal/storage/mysql"
	"OpenAgent-Chain/internal/tools"
	"OpenAgent-Chain/pkg/logger"
)

// main 是 agent-chain 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runDaemon(ctx); err != nil {
		log.Fatalf("agentchaind 运行失败: %v", err)
	}
}

func runDaemon(ctx context.Context) error {
	// .env 文件不存在时静默忽略，仅用于本地开发。
	_ = godotenv.Load()

	configPath := os.Getenv("OPENAGENT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentchain.json")
	}

	var cfg *config.Config
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// 初始化阶段执行后端。
	executor, err := createStageExecutor(cfg)
	if err != nil {
		return err
	}

	runner := pipeline.NewRunner(executor, pipeline.WithLogger(logger.Named("pipeline")))
	pipelineService := pipeline.NewService(runner)
	if err := pipelineService.Register(profile.NewPipeline()); err != nil {
		return err
	}

	runStore, err := createRunStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if runStore != nil {
			_ = runStore.Close()
		}
	}()

	runQueue, err := createRunQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if runQueue != nil {
			if err := runQueue.Close(); err != nil {
				logger.L().Warn("关闭运行队列失败", "error", err)
			}
		}
	}()

	authService, err := createAuthService(ctx, cfg)
	if err != nil {
		return err
	}

	toolRegistry, err := createToolRegistry(cfg)
	if err != nil {
		return err
	}

	runService := run.NewService(runStore, runQueue, cfg.Queue.MaxRetries)
	processor := run.NewProcessor(pipelineService, runStore, runQueue, runQueue,
		run.WithWorkerCount(cfg.Queue.Workers),
		run.WithProcessorLogger(logger.Named("processor")),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("运行处理器异常退出", "error", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, runService,
		api.WithPipelineService(pipelineService),
		api.WithAuthService(authService),
		api.WithToolRegistry(toolRegistry),
		api.WithServerLogger(logger.Named("api")),
	)

	logger.L().Info("agentchaind 已启动", "address", cfg.Server.Address)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createStageExecutor 根据配置选择流水线的阶段执行后端。
func createStageExecutor(cfg *config.Config) (pipeline.Executor, error) {
	switch cfg.LLM.Provider {
	case "", "offline":
		directory, err := loadProfileDirectory(cfg)
		if err != nil {
			return nil, err
		}
		return profile.NewExecutor(directory), nil
	case "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 OPENAI_API_KEY 环境变量")
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return pipeline.NewLLMExecutor(client), nil
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func loadProfileDirectory(cfg *config.Config) (*profile.Directory, error) {
	if cfg.Pipeline.ProfilesPath == "" {
		return profile.NewBuiltinDirectory(), nil
	}
	return profile.LoadDirectory(cfg.Pipeline.ProfilesPath)
}

func createRunStore(cfg *config.Config) (run.Store, error) {
	switch cfg.Storage.RunStore.Driver {
	case "", "memory":
		return run.NewMemoryStore(), nil
	case "mysql":
		return run.NewMySQLStore(cfg.Storage.RunStore.DSN)
	default:
		return nil, fmt.Errorf("未知的运行存储驱动: %s", cfg.Storage.RunStore.Driver)
	}
}

func createRunQueue(cfg *config.Config) (run.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return run.NewMemoryQueue(cfg.Queue.BufferSize), nil
	case "redis":
		return run.NewRedisQueue(run.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Address,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Redis.Queue,
		})
	case "rabbitmq":
		return run.NewRabbitMQQueue(run.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

// createAuthService 初始化身份认证服务与用户目录。
func createAuthService(ctx context.Context, cfg *config.Config) (*auth.Service, error) {
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
	if auth.Mode(cfg.Auth.Mode) == auth.ModeJWT {
		switch cfg.Auth.Store {
		case "", "memory":
			memStore, err := auth.NewMemoryStore(nil)
			if err != nil {
				return nil, err
			}
			store = memStore
		case "mysql":
			sqlStore, err := mysql.NewSQLAuthStore(ctx, mysql.Config{
				DSN: cfg.Storage.RunStore.DSN,
			})
			if err != nil {
				return nil, err
			}
			store = sqlStore
		default:
			return nil, fmt.Errorf("未知的用户目录驱动: %s", cfg.Auth.Store)
		}
	}

	return auth.NewService(ctx, auth.Config{
		Mode: auth.Mode(cfg.Auth.Mode),
		JWT: auth.JWTOptions{
			Secret:     cfg.Auth.JWT.Secret,
			Issuer:     cfg.Auth.JWT.Issuer,
			Audience:   cfg.Auth.JWT.Audience,
			AccessTTL:  cfg.Auth.JWT.AccessTTL,
			RefreshTTL: cfg.Auth.JWT.RefreshTTL,
		},
		Seeds: seeds,
	}, store)
}

func createToolRegistry(cfg *config.Config) (*tools.Registry, error) {
	if cfg.Tools.ConfigPath == "" {
		return tools.NewRegistry(tools.DefaultGatewayConfig())
	}
	gatewayCfg, err := tools.LoadGatewayConfig(cfg.Tools.ConfigPath)
	if err != nil {
		return nil, err
	}
	return tools.NewRegistry(gatewayCfg)
}
