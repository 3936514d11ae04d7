package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述托管服务在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Ledger     LedgerConfig     `json:"ledger"`
	Chains     ChainsConfig     `json:"chains"`
	Reconciler ReconcilerConfig `json:"reconciler"`
	Audit      AuditConfig      `json:"audit"`
	Alerting   AlertingConfig   `json:"alerting"`
	Logger     LoggerConfig     `json:"logger"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LedgerConfig 选择账本的持久化后端。
type LedgerConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	DSN    string `json:"dsn"`
}

// ChainsConfig 指向链定义文件。
type ChainsConfig struct {
	DefinitionsFile string `json:"definitions_file"`
}

// ReconcilerConfig 控制余额对账任务的节奏。
type ReconcilerConfig struct {
	IntervalSeconds   int `json:"interval_seconds"`
	RPCTimeoutSeconds int `json:"rpc_timeout_seconds"`
}

// AuditConfig 选择审计事件的投递通道。
type AuditConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 审计通道的连接信息。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Key       string `json:"key"`
	MaxEvents int64  `json:"max_events"`
}

// RabbitMQConfig 描述 RabbitMQ 审计通道的连接信息。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

// AlertingConfig 控制告警通道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// LoggerConfig 描述日志落盘行为。
type LoggerConfig struct {
	Level       string           `json:"level"`
	Format      string           `json:"format"`
	OutputPaths []string         `json:"output_paths"`
	Audit       LoggerAuditSinks `json:"audit"`
}

// LoggerAuditSinks 描述审计日志文件的滚动策略。
type LoggerAuditSinks struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
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

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "sqlite"
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(baseDir, "custody.db")
	} else if !filepath.IsAbs(c.Ledger.Path) {
		c.Ledger.Path = filepath.Join(baseDir, c.Ledger.Path)
	}

	if c.Chains.DefinitionsFile == "" {
		c.Chains.DefinitionsFile = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Chains.DefinitionsFile) {
		c.Chains.DefinitionsFile = filepath.Join(baseDir, c.Chains.DefinitionsFile)
	}

	if c.Reconciler.IntervalSeconds <= 0 {
		c.Reconciler.IntervalSeconds = 300
	}
	if c.Reconciler.RPCTimeoutSeconds <= 0 {
		c.Reconciler.RPCTimeoutSeconds = 15
	}

	if c.Audit.Driver == "" {
		c.Audit.Driver = "log"
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if len(c.Logger.OutputPaths) == 0 {
		c.Logger.OutputPaths = []string{"stdout"}
	}
	if c.Logger.Audit.Enabled && c.Logger.Audit.Path == "" {
		c.Logger.Audit.Path = filepath.Join(baseDir, "audit.log")
	}
}
