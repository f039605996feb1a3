// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"agent-credit-api/internal/application/audit"
	"agent-credit-api/internal/application/batch"
	"agent-credit-api/internal/application/ledger"
	"agent-credit-api/internal/domain/entity"
	"agent-credit-api/internal/domain/repository"
	"agent-credit-api/internal/interfaces/http/dto"
	apperrors "agent-credit-api/pkg/errors"
	"agent-credit-api/pkg/logger"
)

// LedgerAuthorizationHeader 特权账本操作的凭据头
const LedgerAuthorizationHeader = "X-Ledger-Authorization"

// CreditLedger 处理器依赖的账本能力
type CreditLedger interface {
	GetBalance(ctx context.Context, userID string) (*ledger.Balance, error)
	AddCredits(ctx context.Context, userID string, amount decimal.Decimal, authorization, source string) error
	RefundCredits(ctx context.Context, userID string, amount decimal.Decimal, reason, authorization string) error
	ResetMonthlyCredits(ctx context.Context, userID string, planCreditAmount decimal.Decimal, authorization string) error
	ResetToPlanAllotment(ctx context.Context, userID string, allotments map[string]float64, authorization string) error
}

// AuditQuerier 审计日志查询能力
type AuditQuerier interface {
	List(ctx context.Context, q audit.Query) (*repository.PagedResult[*entity.CreditAuditLog], error)
}

// BatchService 批处理任务能力
type BatchService interface {
	EstimateJob(model, systemPrompt string, items []entity.BatchItem) (*batch.Estimate, error)
	CreateJob(ctx context.Context, in batch.CreateJobInput) (*entity.BatchJob, error)
	GetJob(ctx context.Context, jobID, userID string) (*entity.BatchJob, error)
	ListJobs(ctx context.Context, userID string, status entity.BatchJobStatus, pagination repository.Pagination) (*repository.PagedResult[*entity.BatchJob], error)
	GetJobResults(ctx context.Context, jobID, userID string) ([]*entity.BatchItemResult, error)
	CancelJob(ctx context.Context, jobID, userID string) error
}

// currentUser 读取认证中间件注入的用户 ID，缺失时写入 401 并返回 false
func currentUser(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		dto.Unauthorized(c, "missing user identity")
		return "", false
	}
	return userID, true
}

// ledgerCredential 读取特权操作凭据原文，Bearer 前缀由授权器剥离
func ledgerCredential(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(LedgerAuthorizationHeader))
}

// fail 记录并输出应用错误，5xx 以 Error 级别记录
func fail(c *gin.Context, op string, err error) {
	ctx := c.Request.Context()
	if apperrors.AsAppError(err).HTTPStatus >= 500 {
		logger.Error(ctx, "request failed", err, "operation", op)
	} else {
		logger.Debug(ctx, "request rejected", "operation", op, "error_code", string(apperrors.CodeOf(err)))
	}
	dto.AppError(c, err)
}
