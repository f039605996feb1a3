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
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Credits       CreditsConfig       `yaml:"credits" mapstructure:"credits"`
	Batch         BatchConfig         `yaml:"batch" mapstructure:"batch"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
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
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
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

	// SlowQueryThreshold 超过该耗时的 SQL 记录为 warn
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" mapstructure:"slow_query_threshold"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
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

// LLMConfig LLM 配置
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
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

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen           int           `yaml:"max_len" mapstructure:"max_len"`
	BlockTimeout     time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	ClaimInterval    time.Duration `yaml:"claim_interval" mapstructure:"claim_interval"`
	ReclaimIdle      time.Duration `yaml:"reclaim_idle" mapstructure:"reclaim_idle"`
	DLQWarnThreshold int64         `yaml:"dlq_warn_threshold" mapstructure:"dlq_warn_threshold"`
	RetryLimit       int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff     BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// CreditsConfig 额度账本配置
type CreditsConfig struct {
	// DefaultPlanTier 新开账户的套餐等级
	DefaultPlanTier string `yaml:"default_plan_tier" mapstructure:"default_plan_tier"`
	// PlanAllotments 各套餐每月发放额度，月度重置时使用
	PlanAllotments map[string]float64 `yaml:"plan_allotments" mapstructure:"plan_allotments"`
	// SignupGrant 开户时发放的初始额度
	SignupGrant float64 `yaml:"signup_grant" mapstructure:"signup_grant"`
}

// BatchConfig 批处理任务配置
type BatchConfig struct {
	DefaultModel     string  `yaml:"default_model" mapstructure:"default_model"`
	SafetyMultiplier float64 `yaml:"safety_multiplier" mapstructure:"safety_multiplier"`
	MaxItems         int     `yaml:"max_items" mapstructure:"max_items"`
	// Dispatch 任务派发方式：inprocess / stream
	Dispatch string `yaml:"dispatch" mapstructure:"dispatch"`
	// JobCache 任务状态缓存：memory / redis
	JobCache     string        `yaml:"job_cache" mapstructure:"job_cache"`
	JobCacheTTL  time.Duration `yaml:"job_cache_ttl" mapstructure:"job_cache_ttl"`
	StaleAfter   time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
	ReapInterval time.Duration `yaml:"reap_interval" mapstructure:"reap_interval"`
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
	JWT       JWTConfig            `yaml:"jwt" mapstructure:"jwt"`
	Ledger    LedgerSecurityConfig `yaml:"ledger" mapstructure:"ledger"`
	RateLimit RateLimitConfig      `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig           `yaml:"cors" mapstructure:"cors"`
}

// JWTConfig JWT 配置
type JWTConfig struct {
	// Enabled 关闭后以 X-User-ID 头识别用户，仅用于本地开发
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Secret  string `yaml:"secret" mapstructure:"secret"`
	Issuer  string `yaml:"issuer" mapstructure:"issuer"`
	// Expiration ledgerctl 签发服务 Token 的默认有效期
	Expiration time.Duration `yaml:"expiration" mapstructure:"expiration"`
}

// LedgerSecurityConfig 账本特权操作授权配置
type LedgerSecurityConfig struct {
	// ServiceRoles 允许执行特权操作的服务 Token 角色
	ServiceRoles []string `yaml:"service_roles" mapstructure:"service_roles"`
	// StaticTokens 计费回调等无法持有 JWT 的调用方使用的静态密钥
	StaticTokens []string `yaml:"static_tokens" mapstructure:"static_tokens"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int  `yaml:"burst" mapstructure:"burst"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}
