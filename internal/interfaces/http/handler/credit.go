package handler

import (
	"github.com/gin-gonic/gin"

	"agent-credit-api/internal/config"
	"agent-credit-api/internal/interfaces/http/dto"
)

// CreditHandler 额度处理器
type CreditHandler struct {
	ledger     CreditLedger
	batch      BatchService
	allotments map[string]float64
}

// NewCreditHandler 创建额度处理器
func NewCreditHandler(ledger CreditLedger, batch BatchService, cfg config.CreditsConfig) *CreditHandler {
	return &CreditHandler{
		ledger:     ledger,
		batch:      batch,
		allotments: cfg.PlanAllotments,
	}
}

// GetBalance 查询当前用户余额
// @Summary 查询余额
// @Tags Credits
// @Produce json
// @Success 200 {object} dto.Response[dto.BalanceResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/credits/balance [get]
func (h *CreditHandler) GetBalance(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		fail(c, "balance", err)
		return
	}
	dto.Success(c, dto.ToBalanceResponse(balance))
}

// Estimate 预估一批输入的费用以及余额是否足够
// @Summary 费用预估
// @Tags Credits
// @Accept json
// @Produce json
// @Param body body dto.EstimateRequest true "输入项"
// @Success 200 {object} dto.Response[dto.EstimateResponse]
// @Router /v1/credits/estimate [post]
func (h *CreditHandler) Estimate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	est, err := h.batch.EstimateJob(req.Model, req.SystemPrompt, dto.ToBatchItems(req.Items))
	if err != nil {
		fail(c, "estimate", err)
		return
	}
	balance, err := h.ledger.GetBalance(ctx, userID)
	if err != nil {
		fail(c, "estimate", err)
		return
	}

	dto.Success(c, &dto.EstimateResponse{
		Model:            est.Model,
		EstimatedTokens:  est.EstimatedTokens,
		EstimatedCredits: est.EstimatedCost,
		Available:        balance.Available,
		Sufficient:       balance.Available.GreaterThanOrEqual(est.EstimatedCost),
	})
}

// Grant 发放额度
// @Summary 发放额度
// @Tags Admin
// @Accept json
// @Produce json
// @Param X-Ledger-Authorization header string true "特权凭据"
// @Param body body dto.GrantCreditsRequest true "发放信息"
// @Success 200 {object} dto.Response[dto.BalanceResponse]
// @Failure 403 {object} dto.ErrorResponse
// @Router /v1/admin/credits/grant [post]
func (h *CreditHandler) Grant(c *gin.Context) {
	var req dto.GrantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if err := h.ledger.AddCredits(ctx, req.UserID, req.Amount, ledgerCredential(c), req.Source); err != nil {
		fail(c, "grant", err)
		return
	}
	h.respondBalance(c, req.UserID)
}

// Refund 退还已使用额度
// @Summary 退款
// @Tags Admin
// @Accept json
// @Produce json
// @Param X-Ledger-Authorization header string true "特权凭据"
// @Param body body dto.RefundCreditsRequest true "退款信息"
// @Success 200 {object} dto.Response[dto.BalanceResponse]
// @Router /v1/admin/credits/refund [post]
func (h *CreditHandler) Refund(c *gin.Context) {
	var req dto.RefundCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.RefundCredits(c.Request.Context(), req.UserID, req.Amount, req.Reason, ledgerCredential(c)); err != nil {
		fail(c, "refund", err)
		return
	}
	h.respondBalance(c, req.UserID)
}

// Reset 月度重置
// @Summary 月度重置
// @Tags Admin
// @Accept json
// @Produce json
// @Param X-Ledger-Authorization header string true "特权凭据"
// @Param body body dto.ResetCreditsRequest true "重置信息"
// @Success 200 {object} dto.Response[dto.BalanceResponse]
// @Router /v1/admin/credits/reset [post]
func (h *CreditHandler) Reset(c *gin.Context) {
	var req dto.ResetCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	var err error
	if req.PlanAmount != nil {
		err = h.ledger.ResetMonthlyCredits(ctx, req.UserID, *req.PlanAmount, ledgerCredential(c))
	} else {
		err = h.ledger.ResetToPlanAllotment(ctx, req.UserID, h.allotments, ledgerCredential(c))
	}
	if err != nil {
		fail(c, "reset", err)
		return
	}
	h.respondBalance(c, req.UserID)
}

func (h *CreditHandler) respondBalance(c *gin.Context, userID string) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		fail(c, "balance", err)
		return
	}
	dto.Success(c, dto.ToBalanceResponse(balance))
}
