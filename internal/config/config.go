package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"AgentHub/pkg/logger"
)

// Config 描述 AgentHub 启动阶段需要加载的全部配置。
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	SkillStore SkillStoreConfig `json:"skill_store" yaml:"skill_store"`
	LLM        LLMConfig        `json:"llm" yaml:"llm"`
	Agent      AgentConfig      `json:"agent" yaml:"agent"`
	Wallet     WalletConfig     `json:"wallet" yaml:"wallet"`
	Queue      QueueConfig      `json:"queue" yaml:"queue"`
	Slack      SlackConfig      `json:"slack" yaml:"slack"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Skills     SkillsConfig     `json:"skills" yaml:"skills"`
	Logging    logger.Config    `json:"logging" yaml:"logging"`
}

// ServerConfig 控制 HTTP 服务。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
	Debug   bool   `json:"debug" yaml:"debug"`
}

// DatabaseConfig 描述 agent、消息与检查点所在的关系型存储。
type DatabaseConfig struct {
	Driver          string        `json:"driver" yaml:"driver"`
	DSN             string        `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// SkillStoreConfig 选择技能数据的存储后端。
type SkillStoreConfig struct {
	Driver string      `json:"driver" yaml:"driver"`
	Redis  RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig 为技能存储与任务队列共用的 Redis 连接参数。
type RedisConfig struct {
	Address   string        `json:"address" yaml:"address"`
	Password  string        `json:"password" yaml:"password"`
	DB        int           `json:"db" yaml:"db"`
	Prefix    string        `json:"prefix" yaml:"prefix"`
	Queue     string        `json:"queue" yaml:"queue"`
	BlockWait time.Duration `json:"block_wait" yaml:"block_wait"`
}

// LLMConfig 提供各模型家族的凭据与请求超时。
type LLMConfig struct {
	SystemPrompt    string        `json:"system_prompt" yaml:"system_prompt"`
	OpenAIAPIKey    string        `json:"openai_api_key" yaml:"openai_api_key"`
	OpenAIBaseURL   string        `json:"openai_base_url" yaml:"openai_base_url"`
	DeepSeekAPIKey  string        `json:"deepseek_api_key" yaml:"deepseek_api_key"`
	DeepSeekBaseURL string        `json:"deepseek_base_url" yaml:"deepseek_base_url"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
}

// AgentConfig 控制 agent 缓存与执行器的行为。
type AgentConfig struct {
	PerAgentLock  bool `json:"per_agent_lock" yaml:"per_agent_lock"`
	ResponseLimit int  `json:"response_limit" yaml:"response_limit"`
	MaxSteps      int  `json:"max_steps" yaml:"max_steps"`
}

// WalletConfig 描述钱包与链节点。
type WalletConfig struct {
	ChainConfig    string `json:"chain_config" yaml:"chain_config"`
	DefaultNetwork string `json:"default_network" yaml:"default_network"`
	Passphrase     string `json:"passphrase" yaml:"passphrase"`
}

// QueueConfig 描述异步对话任务的队列。
type QueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Store    string         `json:"store" yaml:"store"`
	Workers  int            `json:"workers" yaml:"workers"`
	Buffer   int            `json:"buffer" yaml:"buffer"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 AMQP 连接。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// SlackConfig 为 agent 变更通知提供凭据。
type SlackConfig struct {
	Token   string `json:"token" yaml:"token"`
	Channel string `json:"channel" yaml:"channel"`
}

// AuthConfig 控制 JWT 鉴权。
type AuthConfig struct {
	Required  bool   `json:"required" yaml:"required"`
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string `json:"issuer" yaml:"issuer"`
}

// SkillsConfig 为系统级技能提供凭据。
type SkillsConfig struct {
	CryptoCompareAPIKey  string `json:"cryptocompare_api_key" yaml:"cryptocompare_api_key"`
	CryptoCompareBaseURL string `json:"cryptocompare_base_url" yaml:"cryptocompare_base_url"`
	TwitterBearerToken   string `json:"twitter_bearer_token" yaml:"twitter_bearer_token"`
	TwitterBaseURL       string `json:"twitter_base_url" yaml:"twitter_base_url"`
	EnsoBaseURL          string `json:"enso_base_url" yaml:"enso_base_url"`
}

// Load 解析配置文件。路径为空或文件不存在时仅使用环境变量与默认值。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."
	if strings.TrimSpace(path) != "" {
		baseDir = filepath.Dir(path)
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		default:
			if err := decode(path, content, &cfg); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	default:
		if err := json.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("解析 JSON 配置失败: %w", err)
		}
	}
	return nil
}

// applyEnv 使用 AGENTHUB_* 环境变量覆盖敏感或部署相关的字段。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("AGENTHUB_ADDRESS", &c.Server.Address)
	str("AGENTHUB_DB_DRIVER", &c.Database.Driver)
	str("AGENTHUB_DB_DSN", &c.Database.DSN)
	str("AGENTHUB_SKILL_STORE_DRIVER", &c.SkillStore.Driver)
	str("AGENTHUB_REDIS_ADDRESS", &c.SkillStore.Redis.Address)
	str("AGENTHUB_SYSTEM_PROMPT", &c.LLM.SystemPrompt)
	str("AGENTHUB_OPENAI_API_KEY", &c.LLM.OpenAIAPIKey)
	str("AGENTHUB_OPENAI_BASE_URL", &c.LLM.OpenAIBaseURL)
	str("AGENTHUB_DEEPSEEK_API_KEY", &c.LLM.DeepSeekAPIKey)
	str("AGENTHUB_WALLET_PASSPHRASE", &c.Wallet.Passphrase)
	str("AGENTHUB_QUEUE_DRIVER", &c.Queue.Driver)
	str("AGENTHUB_RABBITMQ_URL", &c.Queue.RabbitMQ.URL)
	str("AGENTHUB_SLACK_TOKEN", &c.Slack.Token)
	str("AGENTHUB_SLACK_CHANNEL", &c.Slack.Channel)
	str("AGENTHUB_JWT_SECRET", &c.Auth.JWTSecret)
	str("AGENTHUB_CRYPTOCOMPARE_API_KEY", &c.Skills.CryptoCompareAPIKey)
	str("AGENTHUB_TWITTER_BEARER_TOKEN", &c.Skills.TwitterBearerToken)
	str("AGENTHUB_LOG_LEVEL", &c.Logging.Level)
	if v, ok := lookup("AGENTHUB_DEBUG"); ok {
		c.Server.Debug = v == "1" || strings.EqualFold(v, "true")
	}
}

// applyDefaults 在未填写字段时设置默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.SkillStore.Driver == "" {
		c.SkillStore.Driver = c.Database.Driver
	}
	if c.SkillStore.Redis.Prefix == "" {
		c.SkillStore.Redis.Prefix = "agenthub:skill"
	}
	if c.LLM.OpenAIBaseURL == "" {
		c.LLM.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.DeepSeekBaseURL == "" {
		c.LLM.DeepSeekBaseURL = "https://api.deepseek.com"
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 180 * time.Second
	}
	if c.Agent.ResponseLimit <= 0 {
		c.Agent.ResponseLimit = 100
	}
	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = 25
	}
	if c.Wallet.DefaultNetwork == "" {
		c.Wallet.DefaultNetwork = "base-mainnet"
	}
	if c.Wallet.ChainConfig != "" && !filepath.IsAbs(c.Wallet.ChainConfig) {
		c.Wallet.ChainConfig = filepath.Join(baseDir, c.Wallet.ChainConfig)
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Store == "" {
		c.Queue.Store = c.Database.Driver
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 128
	}
	if c.Queue.Redis.Queue == "" {
		c.Queue.Redis.Queue = "agenthub:turns"
	}
	if c.Queue.Redis.Address == "" {
		c.Queue.Redis.Address = c.SkillStore.Redis.Address
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "agenthub.turns"
	}
	if c.Skills.TwitterBaseURL == "" {
		c.Skills.TwitterBaseURL = "https://api.twitter.com/2"
	}
	if c.Skills.CryptoCompareBaseURL == "" {
		c.Skills.CryptoCompareBaseURL = "https://min-api.cryptocompare.com"
	}
	if c.Skills.EnsoBaseURL == "" {
		c.Skills.EnsoBaseURL = "https://api.enso.finance/api/v1"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}

// Validate 检查互相依赖的字段。
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, errors.New("database.driver=mysql 时必须提供 dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的数据库驱动 %q", c.Database.Driver))
	}
	switch c.SkillStore.Driver {
	case "memory", "mysql":
	case "redis":
		if c.SkillStore.Redis.Address == "" {
			errs = append(errs, errors.New("skill_store.driver=redis 时必须提供 redis.address"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的技能存储驱动 %q", c.SkillStore.Driver))
	}
	if c.SkillStore.Driver == "mysql" && c.Database.Driver != "mysql" {
		errs = append(errs, errors.New("skill_store.driver=mysql 需要 database.driver=mysql"))
	}
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.Redis.Address == "" {
			errs = append(errs, errors.New("queue.driver=redis 时必须提供 redis.address"))
		}
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("queue.driver=rabbitmq 时必须提供 rabbitmq.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的队列驱动 %q", c.Queue.Driver))
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.required=true 时必须提供 jwt_secret"))
	}
	return errors.Join(errs...)
}
