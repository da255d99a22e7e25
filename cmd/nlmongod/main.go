package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"NLMongo-Agent/internal/agent"
	"NLMongo-Agent/internal/api"
	"NLMongo-Agent/internal/auth"
	"NLMongo-Agent/internal/config"
	"NLMongo-Agent/internal/executor"
	"NLMongo-Agent/internal/intent"
	"NLMongo-Agent/internal/knowledge"
	"NLMongo-Agent/internal/llm"
	"NLMongo-Agent/internal/llm/openai"
	"NLMongo-Agent/internal/llm/pythonbridge"
	"NLMongo-Agent/internal/observability/alerting"
	"NLMongo-Agent/internal/operation"
	"NLMongo-Agent/internal/policy"
	"NLMongo-Agent/internal/render"
	mongostore "NLMongo-Agent/internal/storage/mongo"
	"NLMongo-Agent/internal/storage/mysql"
	"NLMongo-Agent/internal/task"
	"NLMongo-Agent/pkg/logger"
)

// main 是 nlmongod 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("nlmongod 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	if path == "" {
		path = filepath.Join("configs", "nlmongo.json")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
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
	defer func() { _ = logger.Sync() }()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 目标 MongoDB 集合。
	mongoStore, err := mongostore.Connect(ctx, mongostore.Config{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		Collection:     cfg.Mongo.Collection,
		ConnectTimeout: time.Duration(cfg.Mongo.ConnectTimeoutSeconds) * time.Second,
		PingTimeout:    time.Duration(cfg.Mongo.PingTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoStore.Close(closeCtx)
	}()

	// 安全策略。
	pol := policy.Default()
	if cfg.Policy.File != "" {
		pol, err = policy.LoadFile(cfg.Policy.File)
		if err != nil {
			return err
		}
	}

	// 字段说明,同时用作解析提示与字段白名单的来源。
	var knowledgeProvider knowledge.Provider
	if cfg.Knowledge.File != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Knowledge.File, cfg.Knowledge.MaxResults)
		if err != nil {
			return err
		}
		knowledgeProvider = provider
		if len(pol.AllowedFields) == 0 {
			pol.AllowedFields = provider.Fields()
		}
	}

	// 指令历史。
	var history mysql.InstructionRepository
	switch cfg.History.Driver {
	case "", "memory":
		repo, err := mysql.NewMemoryInstructionRepository(cfg.Runtime.DataDir)
		if err != nil {
			return err
		}
		history = repo
	case "mysql":
		repo, err := mysql.NewSQLInstructionRepository(ctx, mysql.Config{
			DSN:             cfg.History.MySQL.DSN,
			MaxOpenConns:    cfg.History.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.History.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.History.MySQL.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.History.MySQL.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		history = repo
	default:
		return fmt.Errorf("未知的历史驱动: %s", cfg.History.Driver)
	}
	if closer, ok := history.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	parserOpts := []intent.Option{}
	if knowledgeProvider != nil {
		parserOpts = append(parserOpts, intent.WithSchemaHints(knowledgeProvider))
	}

	compilerOpts := []operation.Option{}
	if len(pol.AllowedFields) > 0 {
		compilerOpts = append(compilerOpts, operation.WithAllowedFields(pol.AllowedFields))
	}

	engineOpts := []executor.Option{}
	if pol.MaxQueryResults > 0 {
		engineOpts = append(engineOpts, executor.WithFindLimit(pol.MaxQueryResults))
	}

	ag := agent.New(
		intent.NewParser(llmClient, parserOpts...),
		operation.NewCompiler(compilerOpts...),
		pol,
		executor.NewEngine(executor.NewMongoCollection(mongoStore.Collection()), engineOpts...),
		render.NewRenderer(render.WithLLM(llmClient)),
		agent.WithHistory(history),
	)

	authService, err := createAuthService(cfg)
	if err != nil {
		return err
	}

	serverOpts := []api.ServerOption{api.WithAuth(authService)}

	// 异步任务队列(可选)。
	if cfg.Tasks.Enabled {
		taskStore, err := createTaskStore(cfg)
		if err != nil {
			return err
		}
		defer taskStore.Close()

		taskQueue, err := createTaskQueue(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := taskQueue.Close(); err != nil {
				logger.L().Warn("关闭任务队列失败", slog.Any("error", err))
			}
		}()

		taskService := task.NewService(taskStore, taskQueue, cfg.Tasks.MaxRetries)
		processorOpts := []task.ProcessorOption{
			task.WithWorkerCount(cfg.Tasks.Workers),
			task.WithProcessorLogger(logger.Named("task.processor")),
		}
		if cfg.Tasks.Alerting.Enabled {
			processorOpts = append(processorOpts, task.WithAlertDispatcher(createAlertDispatcher(cfg)))
		}
		processor := task.NewProcessor(ag, taskStore, taskQueue, taskQueue, processorOpts...)

		processorCtx, processorCancel := context.WithCancel(ctx)
		defer processorCancel()
		go func() {
			if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("任务处理器异常退出", slog.Any("error", err))
			}
		}()

		serverOpts = append(serverOpts, api.WithTaskService(taskService))
	}

	server := api.NewServer(cfg.Server.Address, ag, serverOpts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "", "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("NLMONGO_OPENAI_API_KEY"))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 NLMONGO_OPENAI_API_KEY")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createAuthService(cfg *config.Config) (*auth.Service, error) {
	keys := make([]auth.KeySeed, 0, len(cfg.Server.Auth.Keys))
	for _, key := range cfg.Server.Auth.Keys {
		keys = append(keys, auth.KeySeed{
			Key:         key.Key,
			Name:        key.Name,
			Permissions: key.Permissions,
			Disabled:    key.Disabled,
		})
	}
	return auth.NewService(auth.Config{
		Mode: auth.Mode(cfg.Server.Auth.Mode),
		Keys: keys,
	})
}

func createAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.NewAuditNotifier(logger.Audit())}
	if url := strings.TrimSpace(cfg.Tasks.Alerting.DingTalkWebhook); url != "" {
		notifiers = append(notifiers, alerting.NewDingTalkNotifier(url))
	}
	if url := strings.TrimSpace(cfg.Tasks.Alerting.SlackWebhook); url != "" {
		notifiers = append(notifiers, alerting.NewSlackNotifier(url))
	}
	return alerting.NewFanout(notifiers...)
}

func createTaskStore(cfg *config.Config) (task.Store, error) {
	switch cfg.Tasks.Store {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(cfg.History.MySQL.DSN)
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Tasks.Store)
	}
}

func createTaskQueue(cfg *config.Config) (task.Queue, error) {
	switch cfg.Tasks.Queue.Driver {
	case "", "memory":
		return task.NewMemoryQueue(1024), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.Tasks.Queue.Redis.Address,
			Password:  cfg.Tasks.Queue.Redis.Password,
			DB:        cfg.Tasks.Queue.Redis.DB,
			Queue:     cfg.Tasks.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Tasks.Queue.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.Tasks.Queue.RabbitMQ.URL,
			Queue:      cfg.Tasks.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Tasks.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Tasks.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Tasks.Queue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Tasks.Queue.Driver)
	}
}
