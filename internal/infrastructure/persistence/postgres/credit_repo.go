// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agent-credit-api/internal/domain/entity"
)

// CreditRepository 额度账户仓储实现
type CreditRepository struct {
	client *Client
}

// NewCreditRepository 创建额度账户仓储
func NewCreditRepository(client *Client) *CreditRepository {
	return &CreditRepository{client: client}
}

// Create 创建账户，已存在时保持原值并返回 false
func (r *CreditRepository) Create(ctx context.Context, credit *entity.UserCredit) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.CreditRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(credit)
	if res.Error != nil {
		span.RecordError(res.Error)
		return false, fmt.Errorf("failed to create credit account: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetByUserID 根据用户 ID 获取账户
func (r *CreditRepository) GetByUserID(ctx context.Context, userID string) (*entity.UserCredit, error) {
	ctx, span := tracer.Start(ctx, "postgres.CreditRepository.GetByUserID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var credit entity.UserCredit
	if err := db.First(&credit, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get credit account: %w", err)
	}
	return &credit, nil
}

// GetByUserIDForUpdate 锁定并获取账户
func (r *CreditRepository) GetByUserIDForUpdate(ctx context.Context, userID string) (*entity.UserCredit, error) {
	ctx, span := tracer.Start(ctx, "postgres.CreditRepository.GetByUserIDForUpdate")
	defer span.End()

	db := getDB(ctx, r.client.db).Clauses(clause.Locking{Strength: "UPDATE"})
	var credit entity.UserCredit
	if err := db.First(&credit, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get credit account for update: %w", err)
	}
	return &credit, nil
}

// UpdateBalance 写回余额字段
func (r *CreditRepository) UpdateBalance(ctx context.Context, credit *entity.UserCredit) error {
	ctx, span := tracer.Start(ctx, "postgres.CreditRepository.UpdateBalance")
	defer span.End()

	db := getDB(ctx, r.client.db)
	now := time.Now().UTC()
	res := db.Model(&entity.UserCredit{}).Where("user_id = ?", credit.UserID).Updates(map[string]interface{}{
		"credits_added":          credit.CreditsAdded,
		"credits_used":           credit.CreditsUsed,
		"pre_authorized_credits": credit.PreAuthorizedCredits,
		"plan_tier":              credit.PlanTier,
		"updated_at":             now,
	})
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to update credit balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to update credit balance: account %s not found", credit.UserID)
	}
	credit.UpdatedAt = now
	return nil
}
