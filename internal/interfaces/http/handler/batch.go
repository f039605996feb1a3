package handler

import (
	"github.com/gin-gonic/gin"

	"agent-credit-api/internal/application/batch"
	"agent-credit-api/internal/domain/entity"
	"agent-credit-api/internal/interfaces/http/dto"
	apperrors "agent-credit-api/pkg/errors"
)

// BatchHandler 批处理任务处理器
type BatchHandler struct {
	batch BatchService
}

// NewBatchHandler 创建批处理任务处理器
func NewBatchHandler(batch BatchService) *BatchHandler {
	return &BatchHandler{batch: batch}
}

// CreateJob 创建批处理任务
// @Summary 创建批处理任务
// @Description 预估费用并预授权额度，任务异步执行
// @Tags BatchJobs
// @Accept json
// @Produce json
// @Param body body dto.CreateBatchJobRequest true "任务信息"
// @Success 202 {object} dto.Response[dto.BatchJobResponse]
// @Failure 402 {object} dto.ErrorResponse "余额不足"
// @Router /v1/batch-jobs [post]
func (h *BatchHandler) CreateJob(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.CreateBatchJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	job, err := h.batch.CreateJob(c.Request.Context(), batch.CreateJobInput{
		UserID:       userID,
		AgentID:      req.AgentID,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Items:        dto.ToBatchItems(req.Items),
	})
	if err != nil {
		fail(c, "create_batch_job", err)
		return
	}
	dto.Accepted(c, dto.ToBatchJobResponse(job))
}

// ListJobs 列出当前用户的批处理任务
// @Summary 任务列表
// @Tags BatchJobs
// @Produce json
// @Param status query string false "状态过滤"
// @Success 200 {object} dto.Response[dto.BatchJobListResponse]
// @Router /v1/batch-jobs [get]
func (h *BatchHandler) ListJobs(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	status := entity.BatchJobStatus(c.Query("status"))
	switch status {
	case "", entity.BatchJobStatusPending, entity.BatchJobStatusProcessing, entity.BatchJobStatusCompleted, entity.BatchJobStatusFailed:
	default:
		fail(c, "list_batch_jobs", apperrors.ErrInvalidParam.WithDetail("unknown status "+string(status)))
		return
	}

	page := dto.BindPage(c)
	result, err := h.batch.ListJobs(c.Request.Context(), userID, status, page)
	if err != nil {
		fail(c, "list_batch_jobs", err)
		return
	}
	dto.SuccessWithPage(c, dto.ToBatchJobListResponse(result.Items), dto.PageMetaOf(result))
}

// GetJob 查询任务状态
// @Summary 任务状态
// @Tags BatchJobs
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.BatchJobResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/batch-jobs/{jid} [get]
func (h *BatchHandler) GetJob(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	job, err := h.batch.GetJob(c.Request.Context(), dto.BindJobID(c), userID)
	if err != nil {
		fail(c, "get_batch_job", err)
		return
	}
	dto.Success(c, dto.ToBatchJobResponse(job))
}

// GetResults 查询任务已成功输入项的结果
// @Summary 任务结果
// @Tags BatchJobs
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.BatchResultsResponse]
// @Router /v1/batch-jobs/{jid}/results [get]
func (h *BatchHandler) GetResults(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	jobID := dto.BindJobID(c)
	results, err := h.batch.GetJobResults(c.Request.Context(), jobID, userID)
	if err != nil {
		fail(c, "get_batch_results", err)
		return
	}
	dto.Success(c, dto.ToBatchResultsResponse(jobID, results))
}

// CancelJob 取消任务
// @Summary 取消任务
// @Description 释放剩余预授权；执行中的输入项完成后按实际用量扣费
// @Tags BatchJobs
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.CancelJobResponse]
// @Failure 409 {object} dto.ErrorResponse "任务无法取消"
// @Router /v1/batch-jobs/{jid}/cancel [post]
func (h *BatchHandler) CancelJob(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	jobID := dto.BindJobID(c)
	if err := h.batch.CancelJob(c.Request.Context(), jobID, userID); err != nil {
		fail(c, "cancel_batch_job", err)
		return
	}
	dto.Success(c, &dto.CancelJobResponse{ID: jobID, Canceled: true})
}
