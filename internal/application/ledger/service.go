// Package ledger 实现额度账本：充值、扣费、退款、月度重置与预授权
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"agent-credit-api/internal/application/pricing"
	"agent-credit-api/internal/domain/entity"
	"agent-credit-api/internal/domain/repository"
	"agent-credit-api/internal/domain/service"
	apperrors "agent-credit-api/pkg/errors"
	"agent-credit-api/pkg/logger"
	"agent-credit-api/pkg/metrics"
)

var tracer = otel.Tracer("ledger")

// Service 额度账本服务
//
// 每个变更操作在一个事务内完成：锁定账户行、计算新余额、写回并追加一条审计日志。
// 调用方已处于事务中时复用外层事务。
type Service struct {
	credits    repository.CreditRepository
	audits     repository.AuditLogRepository
	txMgr      repository.Transactor
	authorizer service.Authorizer
}

// NewService 创建账本服务
func NewService(
	credits repository.CreditRepository,
	audits repository.AuditLogRepository,
	txMgr repository.Transactor,
	authorizer service.Authorizer,
) *Service {
	return &Service{
		credits:    credits,
		audits:     audits,
		txMgr:      txMgr,
		authorizer: authorizer,
	}
}

// Balance 账户余额视图
type Balance struct {
	UserID        string          `json:"user_id"`
	PlanTier      entity.PlanTier `json:"plan_tier"`
	CreditsAdded  decimal.Decimal `json:"credits_added"`
	CreditsUsed   decimal.Decimal `json:"credits_used"`
	PreAuthorized decimal.Decimal `json:"pre_authorized_credits"`
	Available     decimal.Decimal `json:"available"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// UsageInput 一次补全调用的计费输入
type UsageInput struct {
	UserID  string
	AgentID string
	JobID   string
	Usage   service.TokenUsage
	Model   string
	// FromReservation 本次扣费中由调用方自身预授权覆盖的部分，普通调用为 0
	FromReservation decimal.Decimal
}

// auditEntry 变更函数产出的审计内容
type auditEntry struct {
	amount      decimal.Decimal
	description string
	metadata    map[string]any
}

// mutation 在已锁定的账户上计算新余额
type mutation func(credit *entity.UserCredit) (*auditEntry, error)

// OpenAccount 开户（幂等），新建且 initialGrant > 0 时同一事务内发放初始额度
func (s *Service) OpenAccount(ctx context.Context, userID string, tier entity.PlanTier, initialGrant decimal.Decimal) (*entity.UserCredit, error) {
	ctx, span := tracer.Start(ctx, "ledger.OpenAccount")
	defer span.End()

	payload := map[string]any{"user_id": userID, "plan_tier": tier, "initial_grant": initialGrant}
	if userID == "" {
		return nil, s.fail(ctx, "open_account", apperrors.ErrInvalidParam.WithDetail("user_id is required"), payload)
	}
	if initialGrant.IsNegative() {
		return nil, s.fail(ctx, "open_account", apperrors.ErrInvalidAmount, payload)
	}

	var account *entity.UserCredit
	err := s.txMgr.WithTransaction(ctx, func(ctx context.Context) error {
		created, err := s.credits.Create(ctx, entity.NewUserCredit(userID, tier))
		if err != nil {
			return storageError(err)
		}

		if created && initialGrant.IsPositive() {
			account, err = s.mutate(ctx, entity.CreditOpAdd, userID, func(credit *entity.UserCredit) (*auditEntry, error) {
				credit.CreditsAdded = credit.CreditsAdded.Add(initialGrant)
				return &auditEntry{
					amount:      initialGrant,
					description: "signup grant",
					metadata:    map[string]any{"source": "signup"},
				}, nil
			})
			return err
		}

		account, err = s.credits.GetByUserID(ctx, userID)
		if err != nil {
			return storageError(err)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "open_account", err, payload)
	}

	s.succeed("open_account", initialGrant)
	logger.Info(ctx, "credit account opened", "user_id", userID, "plan_tier", account.PlanTier)
	return account, nil
}

// GetBalance 查询账户余额
func (s *Service) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	ctx, span := tracer.Start(ctx, "ledger.GetBalance")
	defer span.End()

	credit, err := s.credits.GetByUserID(ctx, userID)
	if err != nil {
		return nil, storageError(err)
	}
	if credit == nil {
		return nil, apperrors.ErrAccountNotFound
	}

	return &Balance{
		UserID:        credit.UserID,
		PlanTier:      credit.PlanTier,
		CreditsAdded:  credit.CreditsAdded,
		CreditsUsed:   credit.CreditsUsed,
		PreAuthorized: credit.PreAuthorizedCredits,
		Available:     credit.Available(),
		UpdatedAt:     credit.UpdatedAt,
	}, nil
}

// HasEnoughCredits 可用余额是否覆盖预估 Token 的费用，查询失败视为不足
func (s *Service) HasEnoughCredits(ctx context.Context, userID string, estimatedTokens int, model string) bool {
	ctx, span := tracer.Start(ctx, "ledger.HasEnoughCredits")
	defer span.End()

	credit, err := s.credits.GetByUserID(ctx, userID)
	if err != nil {
		logger.Error(ctx, "failed to check credit balance", err, "user_id", userID)
		return false
	}
	if credit == nil {
		logger.Warn(ctx, "credit check for unknown account", "user_id", userID)
		return false
	}

	required := pricing.CreditsForEstimatedTokens(estimatedTokens, model)
	span.SetAttributes(
		attribute.String("credits.required", required.String()),
		attribute.String("credits.available", credit.Available().String()),
	)
	return credit.Available().GreaterThanOrEqual(required)
}

// AddCredits 充值或发放额度，需要 OpGrantCredits 授权
func (s *Service) AddCredits(ctx context.Context, userID string, amount decimal.Decimal, authorization, source string) error {
	ctx, span := tracer.Start(ctx, "ledger.AddCredits")
	defer span.End()

	payload := map[string]any{"user_id": userID, "amount": amount, "source": source}
	if !s.authorize(ctx, authorization, service.OpGrantCredits) {
		return s.fail(ctx, "add", apperrors.ErrLedgerUnauthorized, payload)
	}
	if !amount.IsPositive() {
		return s.fail(ctx, "add", apperrors.ErrInvalidAmount, payload)
	}

	_, err := s.mutate(ctx, entity.CreditOpAdd, userID, func(credit *entity.UserCredit) (*auditEntry, error) {
		credit.CreditsAdded = credit.CreditsAdded.Add(amount)
		return &auditEntry{
			amount:      amount,
			description: fmt.Sprintf("credits added from %s", sourceOrDefault(source)),
			metadata:    map[string]any{"source": sourceOrDefault(source)},
		}, nil
	})
	if err != nil {
		return s.fail(ctx, "add", err, payload)
	}

	s.succeed("add", amount)
	return nil
}

// TrackUsage 按实际 Token 用量扣费，返回本次费用
//
// FromReservation 部分从预授权中转出，其余部分必须由可用余额覆盖，否则拒绝且不做任何变更。
func (s *Service) TrackUsage(ctx context.Context, in UsageInput) (decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "ledger.TrackUsage")
	defer span.End()

	usage := in.Usage.Normalize()
	payload := map[string]any{
		"user_id":          in.UserID,
		"agent_id":         in.AgentID,
		"job_id":           in.JobID,
		"model":            in.Model,
		"usage":            usage,
		"from_reservation": in.FromReservation,
	}
	if in.AgentID != "" {
		ctx = logger.WithContext(ctx, logger.AgentIDKey, in.AgentID)
	}
	if in.JobID != "" {
		ctx = logger.WithContext(ctx, logger.JobIDKey, in.JobID)
	}

	if in.UserID == "" {
		return decimal.Zero, s.fail(ctx, "usage", apperrors.ErrAccountNotFound, payload)
	}
	if usage.TotalTokens <= 0 {
		return decimal.Zero, s.fail(ctx, "usage", apperrors.ErrValidationFailed.WithDetail("total tokens must be positive"), payload)
	}

	charge := pricing.CreditsForUsage(usage, in.Model)
	span.SetAttributes(attribute.String("credits.charge", charge.String()))

	_, err := s.mutate(ctx, entity.CreditOpUsage, in.UserID, func(credit *entity.UserCredit) (*auditEntry, error) {
		fromReservation := decimal.Max(decimal.Zero, decimal.Min(in.FromReservation, charge, credit.PreAuthorizedCredits))
		uncovered := charge.Sub(fromReservation)
		if uncovered.GreaterThan(credit.Available()) {
			return nil, apperrors.ErrInsufficientCredits.WithDetail(
				fmt.Sprintf("charge %s exceeds available %s", uncovered.StringFixed(2), credit.Available().StringFixed(2)))
		}

		credit.CreditsUsed = credit.CreditsUsed.Add(charge)
		credit.PreAuthorizedCredits = credit.PreAuthorizedCredits.Sub(fromReservation)

		meta := map[string]any{
			"model":             in.Model,
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
			"from_reservation":  fromReservation,
		}
		if in.AgentID != "" {
			meta["agent_id"] = in.AgentID
		}
		if in.JobID != "" {
			meta["job_id"] = in.JobID
		}
		return &auditEntry{
			amount:      charge,
			description: fmt.Sprintf("usage of %d tokens on %s", usage.TotalTokens, in.Model),
			metadata:    meta,
		}, nil
	})
	if err != nil {
		return decimal.Zero, s.fail(ctx, "usage", err, payload)
	}

	s.succeed("usage", charge)
	return charge, nil
}

// RefundCredits 退还已使用额度，需要原因与 OpRefundCredits 授权
func (s *Service) RefundCredits(ctx context.Context, userID string, amount decimal.Decimal, reason, authorization string) error {
	ctx, span := tracer.Start(ctx, "ledger.RefundCredits")
	defer span.End()

	payload := map[string]any{"user_id": userID, "amount": amount, "reason": reason}
	if reason == "" {
		return s.fail(ctx, "refund", apperrors.ErrRefundReasonRequired, payload)
	}
	if !s.authorize(ctx, authorization, service.OpRefundCredits) {
		return s.fail(ctx, "refund", apperrors.ErrLedgerUnauthorized, payload)
	}
	if !amount.IsPositive() {
		return s.fail(ctx, "refund", apperrors.ErrInvalidAmount, payload)
	}

	var refunded decimal.Decimal
	_, err := s.mutate(ctx, entity.CreditOpRefund, userID, func(credit *entity.UserCredit) (*auditEntry, error) {
		refunded = decimal.Min(amount, credit.CreditsUsed)
		credit.CreditsUsed = credit.CreditsUsed.Sub(refunded)
		return &auditEntry{
			amount:      refunded,
			description: fmt.Sprintf("refund: %s", reason),
			metadata:    map[string]any{"reason": reason, "requested": amount},
		}, nil
	})
	if err != nil {
		return s.fail(ctx, "refund", err, payload)
	}

	s.succeed("refund", refunded)
	return nil
}

// ResetMonthlyCredits 月度重置：未用额度结转，发放新周期额度，已用清零，预授权不变
func (s *Service) ResetMonthlyCredits(ctx context.Context, userID string, planCreditAmount decimal.Decimal, authorization string) error {
	payload := map[string]any{"user_id": userID, "plan_credit_amount": planCreditAmount}
	return s.resetMonthly(ctx, userID, authorization, payload, func(*entity.UserCredit) (decimal.Decimal, error) {
		return planCreditAmount, nil
	})
}

// ResetToPlanAllotment 按账户当前套餐在 allotments 中的额度执行月度重置，授权通过后才读取账户
func (s *Service) ResetToPlanAllotment(ctx context.Context, userID string, allotments map[string]float64, authorization string) error {
	payload := map[string]any{"user_id": userID}
	return s.resetMonthly(ctx, userID, authorization, payload, func(credit *entity.UserCredit) (decimal.Decimal, error) {
		allotment, ok := allotments[string(credit.PlanTier)]
		if !ok {
			return decimal.Zero, apperrors.ErrInvalidParam.WithDetail("no allotment configured for plan " + string(credit.PlanTier))
		}
		return decimal.NewFromFloat(allotment), nil
	})
}

func (s *Service) resetMonthly(
	ctx context.Context,
	userID, authorization string,
	payload map[string]any,
	planAmount func(credit *entity.UserCredit) (decimal.Decimal, error),
) error {
	ctx, span := tracer.Start(ctx, "ledger.ResetMonthlyCredits")
	defer span.End()

	if !s.authorize(ctx, authorization, service.OpMonthlyReset) {
		return s.fail(ctx, "monthly_reset", apperrors.ErrLedgerUnauthorized, payload)
	}

	var granted decimal.Decimal
	_, err := s.mutate(ctx, entity.CreditOpMonthlyReset, userID, func(credit *entity.UserCredit) (*auditEntry, error) {
		plan, err := planAmount(credit)
		if err != nil {
			return nil, err
		}
		if plan.IsNegative() {
			return nil, apperrors.ErrInvalidAmount.WithDetail("plan credit amount must not be negative")
		}

		// 结转基于 added - used 而非可用余额，未释放的预授权随余额一起保留
		rollover := credit.CreditsAdded.Sub(credit.CreditsUsed)
		credit.CreditsAdded = rollover.Add(plan)
		credit.CreditsUsed = decimal.Zero
		granted = plan
		return &auditEntry{
			amount:      plan,
			description: fmt.Sprintf("monthly reset for %s plan", credit.PlanTier),
			metadata:    map[string]any{"rollover": rollover, "plan_tier": credit.PlanTier},
		}, nil
	})
	if err != nil {
		return s.fail(ctx, "monthly_reset", err, payload)
	}

	s.succeed("monthly_reset", granted)
	return nil
}

// PreAuthorize 预留额度，可用余额不足时拒绝
func (s *Service) PreAuthorize(ctx context.Context, userID string, amount decimal.Decimal, ref string) error {
	ctx, span := tracer.Start(ctx, "ledger.PreAuthorize")
	defer span.End()

	payload := map[string]any{"user_id": userID, "amount": amount, "reference": ref}
	if !amount.IsPositive() {
		return s.fail(ctx, "pre_authorize", apperrors.ErrInvalidAmount, payload)
	}

	_, err := s.mutate(ctx, entity.CreditOpPreAuthorize, userID, func(credit *entity.UserCredit) (*auditEntry, error) {
		if credit.Available().LessThan(amount) {
			return nil, apperrors.ErrInsufficientCredits.WithDetail(
				fmt.Sprintf("hold %s exceeds available %s", amount.StringFixed(2), credit.Available().StringFixed(2)))
		}
		credit.PreAuthorizedCredits = credit.PreAuthorizedCredits.Add(amount)
		return &auditEntry{
			amount:      amount,
			description: fmt.Sprintf("pre-authorize for %s", ref),
			metadata:    map[string]any{"reference": ref},
		}, nil
	})
	if err != nil {
		return s.fail(ctx, "pre_authorize", err, payload)
	}

	s.succeed("pre_authorize", amount)
	return nil
}

// Release 释放预授权，超出当前预授权的部分被截断
func (s *Service) Release(ctx context.Context, userID string, amount decimal.Decimal, ref string) error {
	ctx, span := tracer.Start(ctx, "ledger.Release")
	defer span.End()

	payload := map[string]any{"user_id": userID, "amount": amount, "reference": ref}
	if !amount.IsPositive() {
		return s.fail(ctx, "release_pre_authorize", apperrors.ErrInvalidAmount, payload)
	}

	var released decimal.Decimal
	_, err := s.mutate(ctx, entity.CreditOpReleasePreAuthorize, userID, func(credit *entity.UserCredit) (*auditEntry, error) {
		released = decimal.Min(amount, credit.PreAuthorizedCredits)
		credit.PreAuthorizedCredits = credit.PreAuthorizedCredits.Sub(released)
		return &auditEntry{
			amount:      released,
			description: fmt.Sprintf("release pre-authorization for %s", ref),
			metadata:    map[string]any{"reference": ref, "requested": amount},
		}, nil
	})
	if err != nil {
		return s.fail(ctx, "release_pre_authorize", err, payload)
	}

	if released.LessThan(amount) {
		logger.Warn(ctx, "release clamped to outstanding hold", "user_id", userID, "requested", amount.String(), "released", released.String(), "reference", ref)
	}
	s.succeed("release_pre_authorize", released)
	return nil
}

// mutate 锁定账户、应用变更、写回余额并追加审计日志
func (s *Service) mutate(ctx context.Context, op entity.CreditOperation, userID string, apply mutation) (*entity.UserCredit, error) {
	var updated *entity.UserCredit
	err := s.txMgr.WithTransaction(ctx, func(ctx context.Context) error {
		credit, err := s.credits.GetByUserIDForUpdate(ctx, userID)
		if err != nil {
			return storageError(err)
		}
		if credit == nil {
			return apperrors.ErrAccountNotFound
		}

		before := credit.Snapshot()
		entry, err := apply(credit)
		if err != nil {
			return err
		}
		after := credit.Snapshot()
		if after.Available.IsNegative() && after.Available.LessThan(before.Available) {
			return apperrors.ErrInsufficientCredits
		}

		if err := s.credits.UpdateBalance(ctx, credit); err != nil {
			return storageError(err)
		}

		meta := entry.metadata
		if meta == nil {
			meta = make(map[string]any, 2)
		}
		meta["before"] = before
		meta["after"] = after
		raw, err := json.Marshal(meta)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternalError, "failed to encode audit metadata")
		}

		log := entity.NewCreditAuditLog(userID, op, entry.amount, before, after, entry.description, raw)
		if err := s.audits.Append(ctx, log); err != nil {
			return storageError(err)
		}

		updated = credit
		return nil
	})
	return updated, err
}

func (s *Service) authorize(ctx context.Context, credential string, op service.PrivilegedOp) bool {
	if s.authorizer == nil {
		return false
	}
	return s.authorizer.Authorize(ctx, credential, op)
}

func (s *Service) succeed(op string, amount decimal.Decimal) {
	metrics.LedgerOperationsTotal.WithLabelValues(op, "success").Inc()
	if amount.IsPositive() {
		metrics.LedgerCreditsTotal.WithLabelValues(op).Add(amount.InexactFloat64())
	}
}

// fail 在账本边界记录一次失败并原样返回错误
func (s *Service) fail(ctx context.Context, op string, err error, payload any) error {
	metrics.LedgerOperationsTotal.WithLabelValues(op, string(apperrors.CodeOf(err))).Inc()
	logger.Failure(ctx, "ledger."+op, err, payload)
	return err
}

func storageError(err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.Wrap(err, apperrors.CodeDatabaseError, "ledger storage failure")
}

func sourceOrDefault(source string) string {
	if source == "" {
		return "manual"
	}
	return source
}
