package config

import (
	"errors"
	"fmt"
)

// 批处理派发与缓存模式
const (
	DispatchInProcess = "inprocess"
	DispatchStream    = "stream"

	JobCacheMemory = "memory"
	JobCacheRedis  = "redis"
)

// Validate 检查相互依赖的配置项，返回全部问题
func (c *Config) Validate() error {
	var errs []error

	switch c.Batch.Dispatch {
	case DispatchInProcess, DispatchStream:
	default:
		errs = append(errs, fmt.Errorf("batch.dispatch must be %q or %q, got %q", DispatchInProcess, DispatchStream, c.Batch.Dispatch))
	}
	switch c.Batch.JobCache {
	case JobCacheMemory, JobCacheRedis:
	default:
		errs = append(errs, fmt.Errorf("batch.job_cache must be %q or %q, got %q", JobCacheMemory, JobCacheRedis, c.Batch.JobCache))
	}
	if c.Batch.SafetyMultiplier < 1 {
		errs = append(errs, fmt.Errorf("batch.safety_multiplier must be at least 1, got %v", c.Batch.SafetyMultiplier))
	}
	if c.Batch.MaxItems <= 0 {
		errs = append(errs, fmt.Errorf("batch.max_items must be positive, got %d", c.Batch.MaxItems))
	}

	if c.Credits.SignupGrant < 0 {
		errs = append(errs, fmt.Errorf("credits.signup_grant must not be negative"))
	}
	for tier, amount := range c.Credits.PlanAllotments {
		if amount < 0 {
			errs = append(errs, fmt.Errorf("credits.plan_allotments.%s must not be negative", tier))
		}
	}

	if c.Security.JWT.Enabled && c.Security.JWT.Secret == "" {
		errs = append(errs, errors.New("security.jwt.secret is required when jwt is enabled"))
	}
	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; c.LLM.DefaultProvider != "" && !ok {
		errs = append(errs, fmt.Errorf("llm.default_provider %q has no provider entry", c.LLM.DefaultProvider))
	}

	return errors.Join(errs...)
}

// NeedsRedis 限流、Redis 任务缓存或 Stream 派发任一启用时需要 Redis
func (c *Config) NeedsRedis() bool {
	return c.Security.RateLimit.Enabled ||
		c.Batch.JobCache == JobCacheRedis ||
		c.Batch.Dispatch == DispatchStream
}
