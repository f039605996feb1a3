// Package audit 提供额度审计日志查询
package audit

import (
	"context"
	"fmt"
	"time"

	"agent-credit-api/internal/domain/entity"
	"agent-credit-api/internal/domain/repository"
	apperrors "agent-credit-api/pkg/errors"
)

// QueryService 审计日志查询服务，只读
type QueryService struct {
	repo repository.AuditLogRepository
}

// NewQueryService 创建审计日志查询服务
func NewQueryService(repo repository.AuditLogRepository) *QueryService {
	return &QueryService{repo: repo}
}

// Query 查询条件，Since 含、Until 不含
type Query struct {
	UserID   string
	Types    []string
	Since    *time.Time
	Until    *time.Time
	Page     int
	PageSize int
}

// List 按时间倒序分页查询用户的审计日志
func (s *QueryService) List(ctx context.Context, q Query) (*repository.PagedResult[*entity.CreditAuditLog], error) {
	if q.UserID == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("user_id is required")
	}
	if q.Since != nil && q.Until != nil && !q.Since.Before(*q.Until) {
		return nil, apperrors.ErrInvalidParam.WithDetail("since must be before until")
	}

	ops := make([]entity.CreditOperation, 0, len(q.Types))
	for _, t := range q.Types {
		op := entity.CreditOperation(t)
		if !op.Valid() {
			return nil, apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("unknown operation type %q", t))
		}
		ops = append(ops, op)
	}

	result, err := s.repo.List(ctx, repository.AuditLogFilter{
		UserID:         q.UserID,
		OperationTypes: ops,
		Since:          q.Since,
		Until:          q.Until,
	}, repository.NewPagination(q.Page, q.PageSize))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to list audit logs")
	}
	return result, nil
}
