package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"agent-credit-api/internal/domain/entity"
)

// BatchItemRequest 批处理输入项
type BatchItemRequest struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content" binding:"required"`
}

// CreateBatchJobRequest 创建批处理任务请求
type CreateBatchJobRequest struct {
	AgentID      string             `json:"agent_id,omitempty"`
	Model        string             `json:"model,omitempty"`
	SystemPrompt string             `json:"system_prompt,omitempty"`
	Items        []BatchItemRequest `json:"items" binding:"required,min=1,dive"`
}

// ToBatchItems 转换为领域输入项
func ToBatchItems(items []BatchItemRequest) []entity.BatchItem {
	out := make([]entity.BatchItem, 0, len(items))
	for _, it := range items {
		out = append(out, entity.BatchItem{ID: it.ID, Content: it.Content})
	}
	return out
}

// BatchJobResponse 批处理任务响应
type BatchJobResponse struct {
	ID                   string          `json:"id"`
	AgentID              string          `json:"agent_id,omitempty"`
	Status               string          `json:"status"`
	Progress             int             `json:"progress"`
	TotalItems           int             `json:"total_items"`
	ProcessedItems       int             `json:"processed_items"`
	Model                string          `json:"model"`
	EstimatedTokens      int             `json:"estimated_tokens"`
	ActualTokens         int             `json:"actual_tokens"`
	CreditsPreAuthorized decimal.Decimal `json:"credits_pre_authorized"`
	CreditsUsed          decimal.Decimal `json:"credits_used"`
	ErrorMessage         string          `json:"error_message,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	StartedAt            *time.Time      `json:"started_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// ToBatchJobResponse 将领域实体转换为响应 DTO
func ToBatchJobResponse(j *entity.BatchJob) *BatchJobResponse {
	if j == nil {
		return nil
	}
	resp := &BatchJobResponse{
		ID:                   j.ID,
		Status:               string(j.Status),
		Progress:             j.Progress,
		TotalItems:           j.TotalItems,
		ProcessedItems:       j.ProcessedItems,
		Model:                j.Model,
		EstimatedTokens:      j.EstimatedTokens,
		ActualTokens:         j.ActualTokens,
		CreditsPreAuthorized: j.CreditsPreAuthorized,
		CreditsUsed:          j.CreditsUsed,
		ErrorMessage:         j.ErrorMessage,
		CreatedAt:            j.CreatedAt,
		UpdatedAt:            j.UpdatedAt,
		StartedAt:            j.StartedAt,
		CompletedAt:          j.CompletedAt,
	}
	if j.AgentID != nil {
		resp.AgentID = *j.AgentID
	}
	return resp
}

// BatchJobListResponse 批处理任务列表响应
type BatchJobListResponse struct {
	Jobs []*BatchJobResponse `json:"jobs"`
}

// ToBatchJobListResponse 将领域实体列表转换为响应 DTO
func ToBatchJobListResponse(jobs []*entity.BatchJob) *BatchJobListResponse {
	resp := &BatchJobListResponse{Jobs: make([]*BatchJobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, ToBatchJobResponse(j))
	}
	return resp
}

// BatchItemResultResponse 输入项结果响应
type BatchItemResultResponse struct {
	ItemID           string          `json:"item_id"`
	Output           string          `json:"output"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	Credits          decimal.Decimal `json:"credits"`
	CreatedAt        time.Time       `json:"created_at"`
}

// BatchResultsResponse 任务结果列表响应
type BatchResultsResponse struct {
	JobID   string                     `json:"job_id"`
	Results []*BatchItemResultResponse `json:"results"`
}

// ToBatchResultsResponse 将结果列表转换为响应 DTO
func ToBatchResultsResponse(jobID string, results []*entity.BatchItemResult) *BatchResultsResponse {
	resp := &BatchResultsResponse{JobID: jobID, Results: make([]*BatchItemResultResponse, 0, len(results))}
	for _, r := range results {
		resp.Results = append(resp.Results, &BatchItemResultResponse{
			ItemID:           r.ItemID,
			Output:           r.Output,
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			TotalTokens:      r.TotalTokens,
			Credits:          r.Credits,
			CreatedAt:        r.CreatedAt,
		})
	}
	return resp
}

// CancelJobResponse 取消任务响应
type CancelJobResponse struct {
	ID       string `json:"id"`
	Canceled bool   `json:"canceled"`
}
