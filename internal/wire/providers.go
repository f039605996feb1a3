// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"agent-credit-api/internal/application/audit"
	"agent-credit-api/internal/application/batch"
	"agent-credit-api/internal/application/ledger"
	"agent-credit-api/internal/config"
	"agent-credit-api/internal/domain/repository"
	"agent-credit-api/internal/domain/service"
	"agent-credit-api/internal/infrastructure/auth"
	"agent-credit-api/internal/infrastructure/llm"
	"agent-credit-api/internal/infrastructure/messaging"
	"agent-credit-api/internal/infrastructure/persistence/postgres"
	"agent-credit-api/internal/infrastructure/persistence/redis"
	"agent-credit-api/internal/interfaces/http/handler"
	"agent-credit-api/internal/interfaces/http/middleware"
	"agent-credit-api/internal/interfaces/http/router"
	"agent-credit-api/pkg/logger"
	"agent-credit-api/pkg/utils"
)

// Version 健康检查返回的版本号，由 main 在初始化前设置
var Version = "dev"

// App API 网关依赖容器
type App struct {
	Router       *router.Router
	Orchestrator *batch.Orchestrator
}

// Worker job-worker 依赖容器
type Worker struct {
	Orchestrator *batch.Orchestrator
	RedisClient  *redis.Client
}

// Maintenance 运维命令使用的依赖容器（bootstrap / ledgerctl）
type Maintenance struct {
	PgClient     *postgres.Client
	Ledger       *ledger.Service
	Audit        *audit.QueryService
	Orchestrator *batch.Orchestrator
}

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClientOptional 仅在限流、任务缓存或 Stream 派发需要时连接 Redis
func ProvideRedisClientOptional(ctx context.Context, cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.NeedsRedis() {
		logger.Info(ctx, "redis not required by current configuration")
		return nil, func() {}, nil
	}
	return ProvideRedisClient(cfg)
}

// ProvideJWTManager 提供 JWT 管理器
func ProvideJWTManager(cfg *config.Config) *utils.JWTManager {
	return utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer)
}

// ProvideLedgerAuthorizer 提供特权账本操作授权器
func ProvideLedgerAuthorizer(jwtManager *utils.JWTManager, cfg *config.Config) *auth.LedgerAuthorizer {
	return auth.NewLedgerAuthorizer(jwtManager, cfg.Security.Ledger)
}

// ProvideCompletionEngine 提供基于 Eino 的补全引擎
func ProvideCompletionEngine(cfg *config.Config) *llm.CompletionEngine {
	return llm.NewCompletionEngine(llm.NewChatModelRegistry(cfg))
}

// ProvideJobCache 按配置选择任务状态缓存，Redis 不可用时退回进程内缓存
func ProvideJobCache(cfg *config.Config, client *redis.Client) batch.JobCache {
	if cfg.Batch.JobCache == config.JobCacheRedis && client != nil {
		return redis.NewJobCache(client, cfg.Batch.JobCacheTTL)
	}
	return batch.NewMemoryJobCache(cfg.Batch.JobCacheTTL)
}

// ProvideMaintenanceJobCache 运维命令只使用进程内缓存
func ProvideMaintenanceJobCache(cfg *config.Config) batch.JobCache {
	return batch.NewMemoryJobCache(cfg.Batch.JobCacheTTL)
}

// ProvideDispatcher stream 模式下经 Redis Stream 交给 job-worker，否则返回 nil 在进程内执行
func ProvideDispatcher(cfg *config.Config, client *redis.Client) batch.Dispatcher {
	if cfg.Batch.Dispatch != config.DispatchStream || client == nil {
		return nil
	}
	maxLen := cfg.Messaging.RedisStream.MaxLen
	if maxLen <= 0 {
		maxLen = 100000
	}
	return messaging.NewProducer(client.Redis(), int64(maxLen))
}

// ProvideOrchestrator 提供批处理编排器
func ProvideOrchestrator(
	cfg *config.Config,
	jobs repository.BatchJobRepository,
	results repository.BatchItemResultRepository,
	txMgr repository.Transactor,
	ledgerSvc *ledger.Service,
	engine service.CompletionEngine,
	cache batch.JobCache,
	dispatcher batch.Dispatcher,
) *batch.Orchestrator {
	return batch.NewOrchestrator(jobs, results, txMgr, ledgerSvc, engine, cache, dispatcher, batch.Config{
		DefaultModel:     cfg.Batch.DefaultModel,
		SafetyMultiplier: cfg.Batch.SafetyMultiplier,
		MaxItems:         cfg.Batch.MaxItems,
	})
}

// ProvideWorkerOrchestrator job-worker 直接执行任务，不再派发
func ProvideWorkerOrchestrator(
	cfg *config.Config,
	jobs repository.BatchJobRepository,
	results repository.BatchItemResultRepository,
	txMgr repository.Transactor,
	ledgerSvc *ledger.Service,
	engine service.CompletionEngine,
	cache batch.JobCache,
) *batch.Orchestrator {
	return ProvideOrchestrator(cfg, jobs, results, txMgr, ledgerSvc, engine, cache, nil)
}

// ProvideHealthHandler 提供健康检查处理器
func ProvideHealthHandler(pg *postgres.Client, client *redis.Client) *handler.HealthHandler {
	var redisChecker handler.HealthChecker
	if client != nil {
		redisChecker = client
	}
	return handler.NewHealthHandler(Version, pg, redisChecker)
}

// ProvideCreditHandler 提供额度处理器
func ProvideCreditHandler(ledgerSvc *ledger.Service, orch *batch.Orchestrator, cfg *config.Config) *handler.CreditHandler {
	return handler.NewCreditHandler(ledgerSvc, orch, cfg.Credits)
}

// ProvideBatchHandler 提供批处理任务处理器
func ProvideBatchHandler(orch *batch.Orchestrator) *handler.BatchHandler {
	return handler.NewBatchHandler(orch)
}

// ProvideRateLimiter Redis 未启用时返回 nil，中间件直接放行
func ProvideRateLimiter(client *redis.Client) middleware.RateLimiter {
	if client == nil {
		return nil
	}
	return redis.NewRateLimiter(client)
}

// ProvideRouter 提供 HTTP 路由器
func ProvideRouter(cfg *config.Config, handlers router.Handlers, limiter middleware.RateLimiter) *router.Router {
	return router.New(cfg, handlers, limiter)
}
