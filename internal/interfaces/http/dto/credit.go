package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"agent-credit-api/internal/application/ledger"
	"agent-credit-api/internal/domain/entity"
)

// BalanceResponse 余额响应
type BalanceResponse struct {
	UserID        string          `json:"user_id"`
	PlanTier      string          `json:"plan_tier"`
	CreditsAdded  decimal.Decimal `json:"credits_added"`
	CreditsUsed   decimal.Decimal `json:"credits_used"`
	PreAuthorized decimal.Decimal `json:"pre_authorized_credits"`
	Available     decimal.Decimal `json:"available"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ToBalanceResponse 将余额视图转换为响应 DTO
func ToBalanceResponse(b *ledger.Balance) *BalanceResponse {
	if b == nil {
		return nil
	}
	return &BalanceResponse{
		UserID:        b.UserID,
		PlanTier:      string(b.PlanTier),
		CreditsAdded:  b.CreditsAdded,
		CreditsUsed:   b.CreditsUsed,
		PreAuthorized: b.PreAuthorized,
		Available:     b.Available,
		UpdatedAt:     b.UpdatedAt,
	}
}

// EstimateRequest 费用预估请求
type EstimateRequest struct {
	Model        string             `json:"model,omitempty"`
	SystemPrompt string             `json:"system_prompt,omitempty"`
	Items        []BatchItemRequest `json:"items" binding:"required,min=1,dive"`
}

// EstimateResponse 费用预估响应
type EstimateResponse struct {
	Model            string          `json:"model"`
	EstimatedTokens  int             `json:"estimated_tokens"`
	EstimatedCredits decimal.Decimal `json:"estimated_credits"`
	Available        decimal.Decimal `json:"available"`
	Sufficient       bool            `json:"sufficient"`
}

// GrantCreditsRequest 发放额度请求
type GrantCreditsRequest struct {
	UserID string          `json:"user_id" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
	Source string          `json:"source,omitempty"`
}

// RefundCreditsRequest 退款请求
type RefundCreditsRequest struct {
	UserID string          `json:"user_id" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// ResetCreditsRequest 月度重置请求，PlanAmount 缺省时使用账户套餐的配置额度
type ResetCreditsRequest struct {
	UserID     string           `json:"user_id" binding:"required"`
	PlanAmount *decimal.Decimal `json:"plan_amount,omitempty"`
}

// AuditLogResponse 审计日志响应
type AuditLogResponse struct {
	ID            string          `json:"id"`
	OperationType string          `json:"operation_type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description,omitempty"`
	Metadata      any             `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AuditLogListResponse 审计日志列表响应
type AuditLogListResponse struct {
	Logs []*AuditLogResponse `json:"logs"`
}

// ToAuditLogListResponse 将领域实体列表转换为响应 DTO
func ToAuditLogListResponse(logs []*entity.CreditAuditLog) *AuditLogListResponse {
	resp := &AuditLogListResponse{Logs: make([]*AuditLogResponse, 0, len(logs))}
	for _, l := range logs {
		item := &AuditLogResponse{
			ID:            l.ID,
			OperationType: string(l.OperationType),
			Amount:        l.Amount,
			BalanceBefore: l.BalanceBefore,
			BalanceAfter:  l.BalanceAfter,
			Description:   l.Description,
			CreatedAt:     l.CreatedAt,
		}
		if len(l.Metadata) > 0 {
			item.Metadata = l.Metadata
		}
		resp.Logs = append(resp.Logs, item)
	}
	return resp
}
