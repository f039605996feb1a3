package handler

import (
	"github.com/gin-gonic/gin"

	"agent-credit-api/internal/application/audit"
	"agent-credit-api/internal/interfaces/http/dto"
)

// AuditHandler 审计日志处理器
type AuditHandler struct {
	query AuditQuerier
}

// NewAuditHandler 创建审计日志处理器
func NewAuditHandler(query AuditQuerier) *AuditHandler {
	return &AuditHandler{query: query}
}

// ListAuditLogs 分页查询当前用户的审计日志
// @Summary 审计日志
// @Tags Credits
// @Produce json
// @Param type query string false "操作类型，逗号分隔"
// @Param since query string false "起始时间 RFC3339（含）"
// @Param until query string false "截止时间 RFC3339（不含）"
// @Success 200 {object} dto.Response[dto.AuditLogListResponse]
// @Router /v1/credits/audit-logs [get]
func (h *AuditHandler) ListAuditLogs(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	since, err := dto.BindTime(c, "since")
	if err != nil {
		dto.BadRequest(c, "invalid since: "+err.Error())
		return
	}
	until, err := dto.BindTime(c, "until")
	if err != nil {
		dto.BadRequest(c, "invalid until: "+err.Error())
		return
	}
	page := dto.BindPage(c)

	result, err := h.query.List(c.Request.Context(), audit.Query{
		UserID:   userID,
		Types:    dto.BindCSV(c, "type"),
		Since:    since,
		Until:    until,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
	if err != nil {
		fail(c, "audit_logs", err)
		return
	}

	dto.SuccessWithPage(c, dto.ToAuditLogListResponse(result.Items), dto.PageMetaOf(result))
}
