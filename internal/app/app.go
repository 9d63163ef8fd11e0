package app

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"RM-Copilot/internal/agent"
	"RM-Copilot/internal/config"
	xerrors "RM-Copilot/internal/errors"
	"RM-Copilot/internal/fixtures"
	"RM-Copilot/internal/jobs"
	"RM-Copilot/internal/knowledge"
	"RM-Copilot/internal/llm"
	"RM-Copilot/internal/llm/openai"
	"RM-Copilot/internal/llm/pythonbridge"
	"RM-Copilot/internal/observability/metrics"
	"RM-Copilot/internal/storage/mysql"
	"RM-Copilot/internal/tools"
	"RM-Copilot/pkg/logger"
)

// App 持有由配置装配出的全部组件，供各个子命令共享。
type App struct {
	Config   *config.Config
	Dataset  *fixtures.Dataset
	Registry *tools.Registry
	Gateway  *llm.Gateway
	Agent    *agent.Agent
	Metrics  *metrics.Collector
	// Runner 是计入指标的 Agent，HTTP 与异步运行都经由它执行。
	Runner   agent.Runner
}

// New 根据配置装配数据集、工具、网关与 agent。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, xerrors.New(xerrors.CodeConfigFailure, "配置不能为空")
	}

	ds, err := LoadDataset(ctx, cfg.Fixtures)
	if err != nil {
		return nil, err
	}
	registry, err := BuildRegistry(ds, cfg.Fixtures)
	if err != nil {
		return nil, err
	}
	client, err := NewLLMClient(cfg.LLM)
	if err != nil {
		return nil, err
	}

	gateway := llm.NewGateway(client,
		llm.WithTimeout(cfg.LLM.Timeout.Std()),
		llm.WithRetries(cfg.LLM.Retries, cfg.LLM.RetryDelay.Std()),
	)
	if !gateway.Configured() {
		logger.L().Warn("未配置 LLM API Key，所有模型调用将返回占位文本", slog.String("env", cfg.LLM.APIKeyEnv))
	}

	ag := agent.New(gateway, registry, agent.WithStageTimeout(cfg.Agent.StageTimeout.Std()))
	collector := metrics.New(metrics.WithToolNames(registry.Names()...))

	return &App{
		Config:   cfg,
		Dataset:  ds,
		Registry: registry,
		Gateway:  gateway,
		Agent:    ag,
		Metrics:  collector,
		Runner:   metrics.InstrumentRunner(ag, collector),
	}, nil
}

// LoadDataset 按 fixtures.source 加载工具数据。
func LoadDataset(ctx context.Context, cfg config.FixturesConfig) (*fixtures.Dataset, error) {
	switch cfg.Source {
	case "", "builtin":
		return fixtures.Default(), nil
	case "file":
		return fixtures.LoadFile(cfg.Path)
	case "mysql":
		store, err := mysql.NewFixtureStore(ctx, MySQLConfig(cfg.MySQL), cfg.MySQL.AutoMigrate)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.Load(ctx)
	default:
		return nil, xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("未知的 fixtures.source: %s", cfg.Source))
	}
}

// MySQLConfig 转换为存储层的连接参数。
func MySQLConfig(cfg config.MySQLConfig) mysql.Config {
	return mysql.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime.Std(),
	}
}

// BuildRegistry 使用数据集构造工具注册表。配置了 knowledge_path 时知识库改为从该文件加载。
func BuildRegistry(ds *fixtures.Dataset, cfg config.FixturesConfig) (*tools.Registry, error) {
	if ds == nil {
		ds = fixtures.Default()
	}
	if cfg.KnowledgePath == "" && cfg.MaxArticles <= 0 {
		return tools.NewDefaultRegistry(ds), nil
	}

	provider := knowledge.NewStaticProvider(ds.Articles, cfg.MaxArticles)
	if cfg.KnowledgePath != "" {
		loaded, err := knowledge.LoadStaticProvider(cfg.KnowledgePath, cfg.MaxArticles)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfigFailure, err, "加载知识库失败")
		}
		provider = loaded
	}
	return tools.NewRegistry(
		tools.NewAccountLookup(ds.Accounts),
		tools.NewKBSearch(provider),
		tools.NewCRMNotes(ds.Clients),
	)
}

// NewLLMClient 根据 provider 创建模型客户端。openai 缺少 API Key 时返回 nil，由网关降级。
func NewLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "", "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, nil
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout.Std(),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.Python.WorkingDir, cfg.Python.ScriptPath)
		client, err := pythonbridge.NewClient(cfg.Python.PythonExecutable, scriptPath, cfg.Python.WorkingDir, cfg.Model)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("未知的大模型 provider: %s", cfg.Provider))
	}
}

// InitLogging 按配置初始化全局日志。
func InitLogging(cfg config.LoggingConfig) error {
	return logger.Init(logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
			Compress:   cfg.Audit.Compress,
		},
	})
}

// NewQueue 按 jobs.queue.driver 创建队列。
func NewQueue(ctx context.Context, cfg config.JobsConfig) (jobs.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return jobs.NewMemoryQueue(cfg.Queue.Size), nil
	case "redis":
		queue, err := jobs.NewRedisQueue(ctx, jobs.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: cfg.Redis.BlockWait.Std(),
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "rabbitmq":
		queue, err := jobs.NewRabbitMQQueue(jobs.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  true,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("未知的队列驱动: %s", cfg.Queue.Driver))
	}
}

// Runs 是异步运行所需的服务与处理器。
type Runs struct {
	Service   *jobs.Service
	Processor *jobs.Processor
}

// NewRuns 创建异步运行服务。
func (a *App) NewRuns(ctx context.Context) (*Runs, error) {
	queue, err := NewQueue(ctx, a.Config.Jobs)
	if err != nil {
		return nil, err
	}
	store := jobs.NewMemoryStore()
	return &Runs{
		Service:   jobs.NewService(store, queue, a.Config.Jobs.MaxRetries),
		Processor: jobs.NewProcessor(a.Runner, store, queue, queue, jobs.WithWorkerCount(a.Config.Jobs.Workers)),
	}, nil
}

// Start 在后台运行处理器，ctx 结束时返回。
func (r *Runs) Start(ctx context.Context) {
	go func() {
		if err := r.Processor.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
			logger.L().Error("运行处理器异常退出", slog.Any("error", err))
		}
	}()
}

// Close 释放队列与存储。
func (r *Runs) Close() error {
	if r == nil || r.Service == nil {
		return nil
	}
	return r.Service.Close()
}
