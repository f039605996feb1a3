// Package config 加载 YAML 配置并支持 ${VAR:default} 环境变量占位
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Load 从 APP_CONFIG_DIR（默认 configs）与 APP_ENV（默认 development）加载配置
func Load() (*Config, error) {
	dir := os.Getenv("APP_CONFIG_DIR")
	if dir == "" {
		dir = "configs"
	}
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	return LoadFrom(dir, env)
}

// LoadFrom 依次合并 config.yaml、config.<env>.yaml（可选）与环境变量，最后做校验
func LoadFrom(dir, env string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	files := []struct {
		path     string
		optional bool
	}{
		{path: filepath.Join(dir, "config.yaml")},
		{path: filepath.Join(dir, "config."+env+".yaml"), optional: true},
	}
	for _, f := range files {
		if err := mergeFile(v, f.path, f.optional); err != nil {
			return nil, err
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func mergeFile(v *viper.Viper, path string, optional bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := v.MergeConfig(strings.NewReader(expandEnv(string(raw)))); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// envPattern 匹配 ${VAR} 与 ${VAR:default}
var envPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// expandEnv 未设置且没有默认值的变量保持原样
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := envPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(m[1]); ok {
			return val
		}
		if strings.Contains(match, ":") {
			return m[2]
		}
		return match
	})
}

func setDefaults(v *viper.Viper) {
	defaults := map[string]any{
		"app.name":    "agent-credit-api",
		"app.version": "v0.0.0",
		"app.env":     "development",

		"server.http.host":          "0.0.0.0",
		"server.http.port":          8080,
		"server.http.read_timeout":  "30s",
		"server.http.write_timeout": "60s",
		"server.http.idle_timeout":  "120s",

		"database.postgres.host":                 "localhost",
		"database.postgres.port":                 5432,
		"database.postgres.user":                 "postgres",
		"database.postgres.database":             "agent_credit",
		"database.postgres.ssl_mode":             "disable",
		"database.postgres.max_open_conns":       50,
		"database.postgres.max_idle_conns":       10,
		"database.postgres.conn_max_lifetime":    "30m",
		"database.postgres.conn_max_idle_time":   "5m",
		"database.postgres.slow_query_threshold": "500ms",

		"cache.redis.host":           "localhost",
		"cache.redis.port":           6379,
		"cache.redis.db":             0,
		"cache.redis.pool_size":      100,
		"cache.redis.min_idle_conns": 10,
		"cache.redis.dial_timeout":   "5s",
		"cache.redis.read_timeout":   "3s",
		"cache.redis.write_timeout":  "3s",

		"messaging.redis_stream.max_len":                  100000,
		"messaging.redis_stream.block_timeout":            "5s",
		"messaging.redis_stream.claim_interval":           "30s",
		"messaging.redis_stream.reclaim_idle":             "5m",
		"messaging.redis_stream.dlq_warn_threshold":       100,
		"messaging.redis_stream.retry_limit":              3,
		"messaging.redis_stream.retry_backoff.initial":    "1s",
		"messaging.redis_stream.retry_backoff.max":        "30s",
		"messaging.redis_stream.retry_backoff.multiplier": 2.0,

		"credits.default_plan_tier": "free",
		"credits.signup_grant":      0,

		"batch.default_model":     "gpt-4o",
		"batch.safety_multiplier": 1.2,
		"batch.max_items":         500,
		"batch.dispatch":          DispatchInProcess,
		"batch.job_cache":         JobCacheMemory,
		"batch.job_cache_ttl":     "1h",
		"batch.stale_after":       "30m",
		"batch.reap_interval":     "5m",

		"observability.logging.level":       "info",
		"observability.logging.format":      "json",
		"observability.tracing.enabled":     true,
		"observability.tracing.endpoint":    "localhost:4317",
		"observability.tracing.sample_rate": 1.0,
		"observability.metrics.enabled":     true,
		"observability.metrics.path":        "/metrics",

		"security.jwt.enabled":                    true,
		"security.jwt.issuer":                     "agent-credit-api",
		"security.jwt.expiration":                 "24h",
		"security.ledger.service_roles":           []string{"billing", "admin"},
		"security.rate_limit.enabled":             true,
		"security.rate_limit.requests_per_second": 100,
		"security.rate_limit.burst":               200,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
