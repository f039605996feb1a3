package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CreditOperation 审计操作类型
type CreditOperation string

const (
	CreditOpUsage               CreditOperation = "usage"
	CreditOpAdd                 CreditOperation = "add"
	CreditOpPreAuthorize        CreditOperation = "pre_authorize"
	CreditOpReleasePreAuthorize CreditOperation = "release_pre_authorize"
	CreditOpRefund              CreditOperation = "refund"
	CreditOpMonthlyReset        CreditOperation = "monthly_reset"
)

// Valid 检查操作类型是否合法
func (o CreditOperation) Valid() bool {
	switch o {
	case CreditOpUsage, CreditOpAdd, CreditOpPreAuthorize, CreditOpReleasePreAuthorize, CreditOpRefund, CreditOpMonthlyReset:
		return true
	}
	return false
}

// CreditAuditLog 额度审计日志（只追加）
// BalanceBefore/BalanceAfter 为操作前后的可用余额
type CreditAuditLog struct {
	ID            string          `json:"id" gorm:"type:uuid;primaryKey"`
	UserID        string          `json:"user_id" gorm:"type:varchar(64);not null;index:idx_credit_audit_user_created,priority:1"`
	OperationType CreditOperation `json:"operation_type" gorm:"type:varchar(32);not null;index"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:numeric(20,4);not null"`
	BalanceBefore decimal.Decimal `json:"balance_before" gorm:"type:numeric(20,4);not null"`
	BalanceAfter  decimal.Decimal `json:"balance_after" gorm:"type:numeric(20,4);not null"`
	Description   string          `json:"description" gorm:"type:text"`
	Metadata      datatypes.JSON  `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null;index:idx_credit_audit_user_created,priority:2,sort:desc"`
}

func (CreditAuditLog) TableName() string {
	return "credit_audit_logs"
}

// NewCreditAuditLog 由前后快照构造一条审计记录
func NewCreditAuditLog(userID string, op CreditOperation, amount decimal.Decimal, before, after CreditSnapshot, description string, metadata datatypes.JSON) *CreditAuditLog {
	return &CreditAuditLog{
		ID:            uuid.NewString(),
		UserID:        userID,
		OperationType: op,
		Amount:        amount,
		BalanceBefore: before.Available,
		BalanceAfter:  after.Available,
		Description:   description,
		Metadata:      metadata,
		CreatedAt:     time.Now().UTC(),
	}
}
