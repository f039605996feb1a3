// Package entity 定义领域实体
package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanTier 套餐等级
type PlanTier string

const (
	PlanTierFree       PlanTier = "free"
	PlanTierPro        PlanTier = "pro"
	PlanTierTeam       PlanTier = "team"
	PlanTierEnterprise PlanTier = "enterprise"
)

// UserCredit 用户额度账户，每个用户一行
type UserCredit struct {
	UserID               string          `json:"user_id" gorm:"type:varchar(64);primaryKey"`
	CreditsAdded         decimal.Decimal `json:"credits_added" gorm:"type:numeric(20,4);not null;default:0"`
	CreditsUsed          decimal.Decimal `json:"credits_used" gorm:"type:numeric(20,4);not null;default:0"`
	PreAuthorizedCredits decimal.Decimal `json:"pre_authorized_credits" gorm:"type:numeric(20,4);not null;default:0"`
	PlanTier             PlanTier        `json:"plan_tier" gorm:"type:varchar(32);not null;default:'free'"`
	CreatedAt            time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt            time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (UserCredit) TableName() string {
	return "user_credits"
}

// NewUserCredit 创建零余额账户
func NewUserCredit(userID string, tier PlanTier) *UserCredit {
	if tier == "" {
		tier = PlanTierFree
	}
	return &UserCredit{
		UserID:               userID,
		CreditsAdded:         decimal.Zero,
		CreditsUsed:          decimal.Zero,
		PreAuthorizedCredits: decimal.Zero,
		PlanTier:             tier,
	}
}

// Available 可用余额 = 已充值 - 已使用 - 预授权
func (c *UserCredit) Available() decimal.Decimal {
	return c.CreditsAdded.Sub(c.CreditsUsed).Sub(c.PreAuthorizedCredits)
}

// Snapshot 返回当前余额字段快照
func (c *UserCredit) Snapshot() CreditSnapshot {
	return CreditSnapshot{
		Added:         c.CreditsAdded,
		Used:          c.CreditsUsed,
		PreAuthorized: c.PreAuthorizedCredits,
		Available:     c.Available(),
	}
}

// CreditSnapshot 账户余额快照，写入审计元数据
type CreditSnapshot struct {
	Added         decimal.Decimal `json:"added"`
	Used          decimal.Decimal `json:"used"`
	PreAuthorized decimal.Decimal `json:"pre_authorized"`
	Available     decimal.Decimal `json:"available"`
}
