//go:build wireinject
// +build wireinject

package wire

import (
	"context"

	"github.com/google/wire"

	"agent-credit-api/internal/application/audit"
	"agent-credit-api/internal/application/ledger"
	"agent-credit-api/internal/config"
	"agent-credit-api/internal/domain/repository"
	"agent-credit-api/internal/domain/service"
	"agent-credit-api/internal/infrastructure/auth"
	"agent-credit-api/internal/infrastructure/llm"
	"agent-credit-api/internal/infrastructure/persistence/postgres"
	"agent-credit-api/internal/interfaces/http/handler"
	"agent-credit-api/internal/interfaces/http/router"
)

// InitializeApp 初始化 API 网关（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		RepoSet,
		LedgerSet,
		ProvideRedisClientOptional,
		ProvideJobCache,
		ProvideDispatcher,
		ProvideOrchestrator,
		RouterSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

// InitializeWorker 初始化 job-worker，Redis 必需
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		RepoSet,
		LedgerSet,
		ProvideRedisClient,
		ProvideJobCache,
		ProvideWorkerOrchestrator,
		wire.Struct(new(Worker), "*"),
	)
	return nil, nil, nil
}

// InitializeMaintenance 仅初始化 PostgreSQL 相关依赖（用于 bootstrap / ledgerctl）
func InitializeMaintenance(ctx context.Context, cfg *config.Config) (*Maintenance, func(), error) {
	wire.Build(
		RepoSet,
		LedgerSet,
		ProvideMaintenanceJobCache,
		ProvideWorkerOrchestrator,
		audit.NewQueryService,
		wire.Struct(new(Maintenance), "*"),
	)
	return nil, nil, nil
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewCreditRepository,
	postgres.NewAuditLogRepository,
	postgres.NewBatchJobRepository,
	postgres.NewBatchItemResultRepository,
)

// RepoSet 整合了具体实现与接口绑定的集合
var RepoSet = wire.NewSet(
	PostgresSet,
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	wire.Bind(new(repository.CreditRepository), new(*postgres.CreditRepository)),
	wire.Bind(new(repository.AuditLogRepository), new(*postgres.AuditLogRepository)),
	wire.Bind(new(repository.BatchJobRepository), new(*postgres.BatchJobRepository)),
	wire.Bind(new(repository.BatchItemResultRepository), new(*postgres.BatchItemResultRepository)),
)

// LedgerSet 账本与补全引擎提供者集合
var LedgerSet = wire.NewSet(
	ProvideJWTManager,
	ProvideLedgerAuthorizer,
	wire.Bind(new(service.Authorizer), new(*auth.LedgerAuthorizer)),
	ledger.NewService,
	ProvideCompletionEngine,
	wire.Bind(new(service.CompletionEngine), new(*llm.CompletionEngine)),
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	audit.NewQueryService,
	wire.Bind(new(handler.AuditQuerier), new(*audit.QueryService)),
	handler.NewAuditHandler,
	ProvideHealthHandler,
	ProvideCreditHandler,
	ProvideBatchHandler,
	ProvideRateLimiter,
	wire.Struct(new(router.Handlers), "*"),
	ProvideRouter,
)
