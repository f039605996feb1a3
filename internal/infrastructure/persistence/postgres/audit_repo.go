// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"agent-credit-api/internal/domain/entity"
	"agent-credit-api/internal/domain/repository"
)

// AuditLogRepository 额度审计日志仓储实现
type AuditLogRepository struct {
	client *Client
}

// NewAuditLogRepository 创建审计日志仓储
func NewAuditLogRepository(client *Client) *AuditLogRepository {
	return &AuditLogRepository{client: client}
}

// Append 追加审计日志
func (r *AuditLogRepository) Append(ctx context.Context, entry *entity.CreditAuditLog) error {
	ctx, span := tracer.Start(ctx, "postgres.AuditLogRepository.Append")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(entry).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to append credit audit log: %w", err)
	}
	return nil
}

// List 分页查询审计日志，按时间倒序
func (r *AuditLogRepository) List(ctx context.Context, filter repository.AuditLogFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.CreditAuditLog], error) {
	ctx, span := tracer.Start(ctx, "postgres.AuditLogRepository.List")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.CreditAuditLog{}).Where("user_id = ?", filter.UserID)

	if len(filter.OperationTypes) > 0 {
		ops := make([]string, 0, len(filter.OperationTypes))
		for _, op := range filter.OperationTypes {
			ops = append(ops, string(op))
		}
		query = query.Where("operation_type = ANY(?)", pq.Array(ops))
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("created_at < ?", *filter.Until)
	}

	// 获取总数
	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count credit audit logs: %w", err)
	}

	// 获取列表
	var logs []*entity.CreditAuditLog
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&logs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list credit audit logs: %w", err)
	}

	return repository.NewPagedResult(logs, total, pagination), nil
}
