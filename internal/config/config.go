package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "RM-Copilot/internal/errors"
)

const (
	// EnvConfigPath 指定配置文件路径。
	EnvConfigPath = "RM_COPILOT_CONFIG"
	// EnvLogLevel 覆盖日志级别。
	EnvLogLevel = "RM_COPILOT_LOG_LEVEL"
	// DefaultAPIKeyEnv 是未配置 api_key_env 时读取密钥的环境变量。
	DefaultAPIKeyEnv = "OPENAI_API_KEY"
)

// Config 描述了 RM Copilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Agent    AgentConfig    `json:"agent" yaml:"agent"`
	Fixtures FixturesConfig `json:"fixtures" yaml:"fixtures"`
	Jobs     JobsConfig     `json:"jobs" yaml:"jobs"`
	Eval     EvalConfig     `json:"eval" yaml:"eval"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string   `json:"address" yaml:"address"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider   string             `json:"provider" yaml:"provider"`
	APIKey     string             `json:"api_key" yaml:"api_key"`
	APIKeyEnv  string             `json:"api_key_env" yaml:"api_key_env"`
	BaseURL    string             `json:"base_url" yaml:"base_url"`
	Model      string             `json:"model" yaml:"model"`
	Timeout    Duration           `json:"timeout" yaml:"timeout"`
	Retries    int                `json:"retries" yaml:"retries"`
	RetryDelay Duration           `json:"retry_delay" yaml:"retry_delay"`
	Python     PythonBridgeConfig `json:"python_bridge" yaml:"python_bridge"`
}

// PythonBridgeConfig 描述通过外部脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable" yaml:"python_executable"`
	ScriptPath       string `json:"script_path" yaml:"script_path"`
	WorkingDir       string `json:"working_dir" yaml:"working_dir"`
}

// AgentConfig 控制编排流程。
type AgentConfig struct {
	StageTimeout Duration `json:"stage_timeout" yaml:"stage_timeout"`
}

// FixturesConfig 决定工具数据从哪里加载。
type FixturesConfig struct {
	Source        string      `json:"source" yaml:"source"`
	Path          string      `json:"path" yaml:"path"`
	KnowledgePath string      `json:"knowledge_path" yaml:"knowledge_path"`
	MaxArticles   int         `json:"max_articles" yaml:"max_articles"`
	MySQL         MySQLConfig `json:"mysql" yaml:"mysql"`
}

// MySQLConfig 描述 fixture 库的连接信息。
type MySQLConfig struct {
	DSN             string   `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int      `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `json:"auto_migrate" yaml:"auto_migrate"`
}

// JobsConfig 描述异步运行的队列与重试策略。
type JobsConfig struct {
	Enabled    bool           `json:"enabled" yaml:"enabled"`
	Workers    int            `json:"workers" yaml:"workers"`
	MaxRetries int            `json:"max_retries" yaml:"max_retries"`
	Queue      QueueConfig    `json:"queue" yaml:"queue"`
	Redis      RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// QueueConfig 选择队列驱动。
type QueueConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	Size   int    `json:"size" yaml:"size"`
}

// RedisConfig 描述 Redis 队列。
type RedisConfig struct {
	Address   string   `json:"address" yaml:"address"`
	Password  string   `json:"password" yaml:"password"`
	DB        int      `json:"db" yaml:"db"`
	Queue     string   `json:"queue" yaml:"queue"`
	BlockWait Duration `json:"block_wait" yaml:"block_wait"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url"`
	Queue    string `json:"queue" yaml:"queue"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
}

// EvalConfig 控制评估任务的输入输出。
type EvalConfig struct {
	DatasetPath string `json:"dataset_path" yaml:"dataset_path"`
	ResultsPath string `json:"results_path" yaml:"results_path"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Format  string      `json:"format" yaml:"format"`
	Outputs []string    `json:"outputs" yaml:"outputs"`
	Audit   AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 描述审计日志及其滚动策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// Load 解析指定路径的配置文件，扩展名为 .yaml/.yml 时按 YAML 解析，否则按 JSON。
// path 为空时依次尝试 RM_COPILOT_CONFIG 与纯默认配置。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}

	cfg := &Config{}
	baseDir := "."
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
		baseDir = filepath.Dir(path)
	}

	cfg.applyDefaults(baseDir)
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfigFailure, err, "打开配置文件失败")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfigFailure, err, "读取配置文件失败")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, cfg)
	default:
		err = json.Unmarshal(content, cfg)
	}
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfigFailure, err, "解析配置失败")
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8000"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = Duration(5 * time.Second)
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = Duration(5 * time.Second)
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = Duration(60 * time.Second)
	}
	if c.LLM.Retries < 0 {
		c.LLM.Retries = 0
	}
	if c.LLM.RetryDelay <= 0 {
		c.LLM.RetryDelay = Duration(500 * time.Millisecond)
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolve(baseDir, c.LLM.Python.WorkingDir, baseDir)
	c.LLM.Python.ScriptPath = resolve(baseDir, c.LLM.Python.ScriptPath, "")

	if c.Fixtures.Source == "" {
		c.Fixtures.Source = "builtin"
	}
	c.Fixtures.Path = resolve(baseDir, c.Fixtures.Path, "")
	c.Fixtures.KnowledgePath = resolve(baseDir, c.Fixtures.KnowledgePath, "")

	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 2
	}
	if c.Jobs.MaxRetries <= 0 {
		c.Jobs.MaxRetries = 2
	}
	if c.Jobs.Queue.Driver == "" {
		c.Jobs.Queue.Driver = "memory"
	}
	if c.Jobs.Queue.Size <= 0 {
		c.Jobs.Queue.Size = 64
	}

	c.Eval.DatasetPath = resolve(baseDir, c.Eval.DatasetPath, filepath.Join(baseDir, "eval", "dataset.json"))
	c.Eval.ResultsPath = resolve(baseDir, c.Eval.ResultsPath, filepath.Join(baseDir, "eval", "results.json"))

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if len(c.Logging.Outputs) == 0 {
		c.Logging.Outputs = []string{"stderr"}
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	} else {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path, "")
	}
}

// applyEnv 使用环境变量覆盖敏感或常用字段。
func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = strings.TrimSpace(os.Getenv(c.LLM.APIKeyEnv))
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		c.Logging.Level = level
	}
}

// Validate 检查枚举字段的取值。缺少 API Key 不视为错误，由网关降级处理。
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "python_bridge":
	default:
		return xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("未知的 llm.provider: %s", c.LLM.Provider))
	}
	switch c.Fixtures.Source {
	case "builtin":
	case "file":
		if c.Fixtures.Path == "" {
			return xerrors.New(xerrors.CodeConfigFailure, "fixtures.source=file 时必须提供 fixtures.path")
		}
	case "mysql":
		if strings.TrimSpace(c.Fixtures.MySQL.DSN) == "" {
			return xerrors.New(xerrors.CodeConfigFailure, "fixtures.source=mysql 时必须提供 fixtures.mysql.dsn")
		}
	default:
		return xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("未知的 fixtures.source: %s", c.Fixtures.Source))
	}
	switch c.Jobs.Queue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("未知的 jobs.queue.driver: %s", c.Jobs.Queue.Driver))
	}
	return nil
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
