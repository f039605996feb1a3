package repository

import (
	"context"
	"time"

	"agent-credit-api/internal/domain/entity"
)

// CreditRepository 额度账户仓储接口
type CreditRepository interface {
	// Create 创建账户，已存在时不做修改；返回是否新建
	Create(ctx context.Context, credit *entity.UserCredit) (bool, error)

	// GetByUserID 根据用户 ID 获取账户
	GetByUserID(ctx context.Context, userID string) (*entity.UserCredit, error)

	// GetByUserIDForUpdate 在事务内锁定并获取账户（SELECT ... FOR UPDATE）
	GetByUserIDForUpdate(ctx context.Context, userID string) (*entity.UserCredit, error)

	// UpdateBalance 写回余额字段与套餐等级，需在持有行锁的事务内调用
	UpdateBalance(ctx context.Context, credit *entity.UserCredit) error
}

// AuditLogFilter 审计日志查询条件
type AuditLogFilter struct {
	UserID         string
	OperationTypes []entity.CreditOperation
	Since          *time.Time
	Until          *time.Time
}

// AuditLogRepository 审计日志仓储接口，只追加
type AuditLogRepository interface {
	// Append 追加一条审计日志
	Append(ctx context.Context, entry *entity.CreditAuditLog) error

	// List 按条件分页查询，按时间倒序
	List(ctx context.Context, filter AuditLogFilter, pagination Pagination) (*PagedResult[*entity.CreditAuditLog], error)
}
