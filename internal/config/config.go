package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// EnvConfigPath 指定配置文件路径的环境变量,命令行参数优先。
const EnvConfigPath = "NLMONGO_CONFIG"

// Config 描述了服务在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	LLM       LLMConfig       `json:"llm"`
	Mongo     MongoConfig     `json:"mongo"`
	History   HistoryConfig   `json:"history"`
	Tasks     TasksConfig     `json:"tasks"`
	Policy    PolicyConfig    `json:"policy"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与认证方式。
type ServerConfig struct {
	Address string     `json:"address"`
	Auth    AuthConfig `json:"auth"`
}

// AuthConfig 描述 API Key 认证的开关与密钥清单。
type AuthConfig struct {
	Mode string    `json:"mode"`
	Keys []AuthKey `json:"keys"`
}

// AuthKey 定义一个 API Key 及其映射的调用方身份。
type AuthKey struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// AuditLogConfig 控制审计日志的滚动输出。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string             `json:"provider"`
	OpenAI   OpenAIConfig       `json:"openai"`
	Python   PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容端点的调用参数。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// MongoConfig 描述目标 MongoDB 集合的连接信息。
type MongoConfig struct {
	URI                   string `json:"uri"`
	Database              string `json:"database"`
	Collection            string `json:"collection"`
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds"`
	PingTimeoutSeconds    int    `json:"ping_timeout_seconds"`
}

// HistoryConfig 控制指令历史的落盘方式。
type HistoryConfig struct {
	Driver string      `json:"driver"`
	MySQL  MySQLConfig `json:"mysql"`
}

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// TasksConfig 控制异步任务队列。Enabled 为 false 时只提供同步接口。
type TasksConfig struct {
	Enabled    bool           `json:"enabled"`
	Workers    int            `json:"workers"`
	MaxRetries int            `json:"max_retries"`
	Store      string         `json:"store"`
	Queue      QueueConfig    `json:"queue"`
	Alerting   AlertingConfig `json:"alerting"`
}

// AlertingConfig 控制任务失败告警。Enabled 为 true 时告警至少写入
// 审计日志;配置了 webhook 的渠道同时生效。
type AlertingConfig struct {
	Enabled         bool   `json:"enabled"`
	DingTalkWebhook string `json:"dingtalk_webhook"`
	SlackWebhook    string `json:"slack_webhook"`
}

// QueueConfig 描述任务队列的后端实现。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// PolicyConfig 指向安全策略文件。留空时使用内置默认策略。
type PolicyConfig struct {
	File string `json:"file"`
}

// KnowledgeConfig 指向字段说明文件,供解析提示词与字段白名单使用。
type KnowledgeConfig struct {
	File       string `json:"file"`
	MaxResults int    `json:"max_results"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.Auth.Mode == "" {
		c.Server.Auth.Mode = "disabled"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.LLM.Python.WorkingDir) {
		c.LLM.Python.WorkingDir = filepath.Join(baseDir, c.LLM.Python.WorkingDir)
	}

	if c.Mongo.URI == "" {
		c.Mongo.URI = "mongodb://127.0.0.1:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "nlmongo"
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "documents"
	}
	if c.Mongo.ConnectTimeoutSeconds <= 0 {
		c.Mongo.ConnectTimeoutSeconds = 10
	}
	if c.Mongo.PingTimeoutSeconds <= 0 {
		c.Mongo.PingTimeoutSeconds = 5
	}

	if c.History.Driver == "" {
		c.History.Driver = "memory"
	}

	if c.Tasks.Workers <= 0 {
		c.Tasks.Workers = 2
	}
	if c.Tasks.MaxRetries <= 0 {
		c.Tasks.MaxRetries = 3
	}
	if c.Tasks.Store == "" {
		c.Tasks.Store = "memory"
	}
	if c.Tasks.Queue.Driver == "" {
		c.Tasks.Queue.Driver = "memory"
	}

	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 8
	}

	if c.Policy.File != "" && !filepath.IsAbs(c.Policy.File) {
		c.Policy.File = filepath.Join(baseDir, c.Policy.File)
	}
	if c.Knowledge.File != "" && !filepath.IsAbs(c.Knowledge.File) {
		c.Knowledge.File = filepath.Join(baseDir, c.Knowledge.File)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
