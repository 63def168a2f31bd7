// Package config 提供配置加载功能
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Load 加载配置文件
// 按优先级加载：默认配置 -> 环境配置 -> 环境变量
func Load() (*Config, error) {
	return LoadFrom("configs")
}

// LoadFrom 从指定目录加载配置
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// 1. 加载默认配置
	if err := loadConfigFile(v, filepath.Join(dir, "config.yaml"), false); err != nil {
		return nil, err
	}

	// 2. 加载环境特定配置
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	envFile := filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env))
	if err := loadConfigFile(v, envFile, true); err != nil {
		return nil, err
	}

	// 3. 绑定环境变量 (直接覆盖)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值 (兜底)
	setDefaults(v)

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadConfigFile 读取文件，执行环境变量替换，并加载到 viper
func loadConfigFile(v *viper.Viper, path string, optional bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// 执行环境变量替换
	expanded := expandEnv(string(content))

	// 加载到 viper
	reader := strings.NewReader(expanded)
	if v.ConfigFileUsed() == "" {
		if err := v.ReadConfig(reader); err != nil {
			return fmt.Errorf("failed to read processed config %s: %w", path, err)
		}
		// 手动标记已加载文件，防止后续 ReadInConfig 报错
		v.SetConfigFile(path)
	} else {
		if err := v.MergeConfig(reader); err != nil {
			return fmt.Errorf("failed to merge processed config %s: %w", path, err)
		}
	}

	return nil
}

// expandEnv 替换字符串中的 ${VAR:default} 占位符
func expandEnv(s string) string {
	// 匹配 ${VAR} 或 ${VAR:default}
	// g1: 变量名, g2: 默认值部分（含冒号）, g3: 默认值内容
	re := regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		submatch := re.FindStringSubmatch(match)
		key := submatch[1]
		hasDefault := submatch[2] != ""
		defVal := submatch[3]

		val, ok := os.LookupEnv(key)
		if ok {
			return val
		}
		if hasDefault {
			return defVal
		}
		return match // 保留原样以便识别未定义的变量
	})
}

// MustLoad 加载配置，失败时 panic
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	for _, tier := range []string{"guest", "free", "pro"} {
		limits, ok := c.Quota.Tiers[tier]
		if !ok {
			return fmt.Errorf("quota.tiers.%s is required", tier)
		}
		if limits.PerMinute <= 0 || limits.PerDay <= 0 {
			return fmt.Errorf("quota.tiers.%s limits must be positive", tier)
		}
		if _, ok := c.LLM.Tiers[tier]; !ok {
			return fmt.Errorf("llm.tiers.%s is required", tier)
		}
	}
	if c.Security.JWT.Secret == "" {
		return fmt.Errorf("security.jwt.secret is required")
	}
	return nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 应用默认值
	v.SetDefault("app.name", "deck-assistant-api")
	v.SetDefault("app.version", "v0.0.0")
	v.SetDefault("app.env", "development")

	// HTTP 服务器默认值
	v.SetDefault("server.http.host", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", "30s")
	v.SetDefault("server.http.write_timeout", "90s")
	v.SetDefault("server.http.idle_timeout", "120s")
	v.SetDefault("server.http.shutdown_timeout", "30s")

	// 数据库默认值
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.database", "deck_assistant")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 50)
	v.SetDefault("database.postgres.max_idle_conns", 10)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
	v.SetDefault("database.postgres.conn_max_idle_time", "5m")
	v.SetDefault("database.postgres.slow_threshold", "200ms")

	// Redis 默认值
	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 100)
	v.SetDefault("cache.redis.min_idle_conns", 10)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")

	// Milvus 默认值
	v.SetDefault("vector.milvus.enabled", false)
	v.SetDefault("vector.milvus.host", "localhost")
	v.SetDefault("vector.milvus.port", 19530)
	v.SetDefault("vector.milvus.collection_prefix", "deck_assistant")
	v.SetDefault("vector.milvus.metric_type", "COSINE")
	v.SetDefault("vector.milvus.hnsw_m", 16)
	v.SetDefault("vector.milvus.hnsw_ef_construction", 200)
	v.SetDefault("vector.milvus.search_top_k", 4)

	// LLM 阶段默认值
	v.SetDefault("llm.default_provider", "openai")
	v.SetDefault("llm.stages.research.enabled", true)
	v.SetDefault("llm.stages.research.timeout", "8s")
	v.SetDefault("llm.stages.research.max_tokens", 160)
	v.SetDefault("llm.stages.answer.enabled", true)
	v.SetDefault("llm.stages.answer.timeout", "45s")
	v.SetDefault("llm.stages.answer.temperature", 0.7)
	v.SetDefault("llm.stages.review.enabled", true)
	v.SetDefault("llm.stages.review.timeout", "20s")
	v.SetDefault("llm.stages.review.temperature", 0.2)
	v.SetDefault("llm.stages.regen.enabled", true)
	v.SetDefault("llm.stages.regen.timeout", "45s")
	v.SetDefault("llm.stages.regen.temperature", 0.5)
	v.SetDefault("llm.stages.summary.enabled", true)
	v.SetDefault("llm.stages.summary.timeout", "20s")
	v.SetDefault("llm.stages.summary.max_tokens", 400)
	v.SetDefault("llm.retry.max_attempts", 2)
	v.SetDefault("llm.retry.initial", "2s")
	v.SetDefault("llm.retry.max", "5s")
	v.SetDefault("llm.retry.multiplier", 2.0)

	// 消息队列默认值
	v.SetDefault("messaging.redis_stream.max_len", 10000)
	v.SetDefault("messaging.redis_stream.consumer_group_prefix", "cg")
	v.SetDefault("messaging.redis_stream.block_timeout", "5s")
	v.SetDefault("messaging.redis_stream.claim_interval", "30s")
	v.SetDefault("messaging.redis_stream.retry_limit", 3)
	v.SetDefault("messaging.redis_stream.retry_backoff.initial", "1s")
	v.SetDefault("messaging.redis_stream.retry_backoff.max", "1m")
	v.SetDefault("messaging.redis_stream.retry_backoff.multiplier", 2.0)

	// 配额默认值
	v.SetDefault("quota.fail_open", true)
	v.SetDefault("quota.daily_token_budget", 0)
	v.SetDefault("quota.tiers.guest.per_minute", 5)
	v.SetDefault("quota.tiers.guest.per_day", 20)
	v.SetDefault("quota.tiers.free.per_minute", 20)
	v.SetDefault("quota.tiers.free.per_day", 500)
	v.SetDefault("quota.tiers.pro.per_minute", 60)
	v.SetDefault("quota.tiers.pro.per_day", 5000)

	// 对话默认值
	v.SetDefault("chat.response_ttl", "1h")
	v.SetDefault("chat.research_ttl", "10m")
	v.SetDefault("chat.history_limit", 12)
	v.SetDefault("chat.compose_timeout", "3s")
	v.SetDefault("chat.summary_timeout", "30s")
	v.SetDefault("chat.default_persona", "brewer")
	v.SetDefault("chat.teaching_persona", "tutor")
	v.SetDefault("chat.keep_draft_on_failure", true)
	v.SetDefault("chat.gate.mini_model", "gpt-4o-mini")
	v.SetDefault("chat.gate.near_budget_ratio", 0.8)

	// 可观测性默认值
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")

	// 安全默认值
	v.SetDefault("security.jwt.issuer", "deck-assistant")
	v.SetDefault("security.jwt.expiration", "24h")
	v.SetDefault("security.jwt.guest_expiration", "72h")

	// 功能开关默认值
	v.SetDefault("features.research.enabled", true)
	v.SetDefault("features.snippets.enabled", false)
	v.SetDefault("features.summary.enabled", true)
	v.SetDefault("features.gate.enabled", true)
}
