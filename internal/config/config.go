// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Vector        VectorConfig        `yaml:"vector" mapstructure:"vector"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding" mapstructure:"embedding"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Quota         QuotaConfig         `yaml:"quota" mapstructure:"quota"`
	Chat          ChatConfig          `yaml:"chat" mapstructure:"chat"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
	Features      FeaturesConfig      `yaml:"features" mapstructure:"features"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" mapstructure:"slow_threshold"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	// Backend 响应缓存后端: redis | memory
	Backend string      `yaml:"backend" mapstructure:"backend"`
	Redis   RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// VectorConfig 向量数据库配置
type VectorConfig struct {
	Milvus MilvusConfig `yaml:"milvus" mapstructure:"milvus"`
}

// MilvusConfig Milvus 配置
type MilvusConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	CollectionPrefix   string `yaml:"collection_prefix" mapstructure:"collection_prefix"`
	MetricType         string `yaml:"metric_type" mapstructure:"metric_type"`
	HNSWM              int    `yaml:"hnsw_m" mapstructure:"hnsw_m"`
	HNSWEfConstruction int    `yaml:"hnsw_ef_construction" mapstructure:"hnsw_ef_construction"`
	SearchTopK         int    `yaml:"search_top_k" mapstructure:"search_top_k"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`

	// Models 模型能力声明，key 为模型名
	Models map[string]ModelConfig `yaml:"models" mapstructure:"models"`
	// Tiers 各等级的模型选择，key 为 guest/free/pro
	Tiers  map[string]TierModelConfig `yaml:"tiers" mapstructure:"tiers"`
	Stages StagesConfig               `yaml:"stages" mapstructure:"stages"`
	Retry  RetryConfig                `yaml:"retry" mapstructure:"retry"`
}

// ProviderConfig LLM 提供商配置
type ProviderConfig struct {
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ModelConfig 单个模型的能力与回退
type ModelConfig struct {
	Provider     string   `yaml:"provider" mapstructure:"provider"`
	Capabilities []string `yaml:"capabilities" mapstructure:"capabilities"`
	Fallback     string   `yaml:"fallback" mapstructure:"fallback"`
}

// TierModelConfig 等级模型配置
type TierModelConfig struct {
	Model         string `yaml:"model" mapstructure:"model"`
	FallbackModel string `yaml:"fallback_model" mapstructure:"fallback_model"`
	MaxTokensCap  int    `yaml:"max_tokens_cap" mapstructure:"max_tokens_cap"`
}

// StagesConfig 流水线各阶段配置
type StagesConfig struct {
	Research StageConfig `yaml:"research" mapstructure:"research"`
	Answer   StageConfig `yaml:"answer" mapstructure:"answer"`
	Review   StageConfig `yaml:"review" mapstructure:"review"`
	Regen    StageConfig `yaml:"regen" mapstructure:"regen"`
	Summary  StageConfig `yaml:"summary" mapstructure:"summary"`
}

// StageConfig 单阶段配置
type StageConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
}

// RetryConfig 阶段内重试配置（仅网络错误与 5xx）
type RetryConfig struct {
	MaxAttempts uint          `yaml:"max_attempts" mapstructure:"max_attempts"`
	Initial     time.Duration `yaml:"initial" mapstructure:"initial"`
	Max         time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier  float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// EmbeddingConfig Embedding 配置
type EmbeddingConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"`
	Model     string `yaml:"model" mapstructure:"model"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	Dimension int    `yaml:"dimension" mapstructure:"dimension"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen              int           `yaml:"max_len" mapstructure:"max_len"`
	ConsumerGroupPrefix string        `yaml:"consumer_group_prefix" mapstructure:"consumer_group_prefix"`
	BlockTimeout        time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	ClaimInterval       time.Duration `yaml:"claim_interval" mapstructure:"claim_interval"`
	RetryLimit          int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff        BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// QuotaConfig 配额配置
type QuotaConfig struct {
	// FailOpen 计数存储不可用时是否放行
	FailOpen bool `yaml:"fail_open" mapstructure:"fail_open"`
	// DailyTokenBudget 每身份每日 token 预算，0 表示不限
	DailyTokenBudget int64                  `yaml:"daily_token_budget" mapstructure:"daily_token_budget"`
	Tiers            map[string]QuotaLimits `yaml:"tiers" mapstructure:"tiers"`
}

// QuotaLimits 单等级限额
type QuotaLimits struct {
	PerMinute int `yaml:"per_minute" mapstructure:"per_minute"`
	PerDay    int `yaml:"per_day" mapstructure:"per_day"`
}

// ChatConfig 对话流水线配置
type ChatConfig struct {
	ResponseTTL        time.Duration `yaml:"response_ttl" mapstructure:"response_ttl"`
	ResearchTTL        time.Duration `yaml:"research_ttl" mapstructure:"research_ttl"`
	HistoryLimit       int           `yaml:"history_limit" mapstructure:"history_limit"`
	ComposeTimeout     time.Duration `yaml:"compose_timeout" mapstructure:"compose_timeout"`
	SummaryTimeout     time.Duration `yaml:"summary_timeout" mapstructure:"summary_timeout"`
	DefaultPersona     string        `yaml:"default_persona" mapstructure:"default_persona"`
	TeachingPersona    string        `yaml:"teaching_persona" mapstructure:"teaching_persona"`
	KeepDraftOnFailure bool          `yaml:"keep_draft_on_failure" mapstructure:"keep_draft_on_failure"`
	KnowledgeFile      string        `yaml:"knowledge_file" mapstructure:"knowledge_file"`
	Gate               GateConfig    `yaml:"gate" mapstructure:"gate"`
}

// GateConfig 前置分流：静态答复、小模型、完整流水线
type GateConfig struct {
	MiniModel string `yaml:"mini_model" mapstructure:"mini_model"`
	// NearBudgetRatio 当日 Token 用量达到预算的该比例时优先小模型
	NearBudgetRatio float64 `yaml:"near_budget_ratio" mapstructure:"near_budget_ratio"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT  JWTConfig  `yaml:"jwt" mapstructure:"jwt"`
	CORS CORSConfig `yaml:"cors" mapstructure:"cors"`
}

// JWTConfig JWT 配置
type JWTConfig struct {
	Secret          string        `yaml:"secret" mapstructure:"secret"`
	Issuer          string        `yaml:"issuer" mapstructure:"issuer"`
	Expiration      time.Duration `yaml:"expiration" mapstructure:"expiration"`
	GuestExpiration time.Duration `yaml:"guest_expiration" mapstructure:"guest_expiration"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

// FeaturesConfig 功能开关配置
type FeaturesConfig struct {
	Research FeatureToggle `yaml:"research" mapstructure:"research"`
	Snippets FeatureToggle `yaml:"snippets" mapstructure:"snippets"`
	Summary  FeatureToggle `yaml:"summary" mapstructure:"summary"`
	Gate     FeatureToggle `yaml:"gate" mapstructure:"gate"`
}

// FeatureToggle 通用开关
type FeatureToggle struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}
