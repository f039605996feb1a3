package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BatchJobStatus 批处理任务状态
type BatchJobStatus string

const (
	BatchJobStatusPending    BatchJobStatus = "pending"
	BatchJobStatusProcessing BatchJobStatus = "processing"
	BatchJobStatusCompleted  BatchJobStatus = "completed"
	BatchJobStatusFailed     BatchJobStatus = "failed"
)

// 预定义失败原因
const (
	JobErrCanceledByUser = "canceled by user"
	JobErrInterrupted    = "interrupted"
)

// BatchItem 批处理输入项
type BatchItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// BatchItems 以 jsonb 存储的输入项列表
type BatchItems = datatypes.JSONSlice[BatchItem]

// BatchJob 批处理任务
type BatchJob struct {
	ID                   string          `json:"id" gorm:"type:uuid;primaryKey"`
	UserID               string          `json:"user_id" gorm:"type:varchar(64);not null;index:idx_batch_jobs_user_created,priority:1"`
	AgentID              *string         `json:"agent_id,omitempty" gorm:"type:varchar(64)"`
	Status               BatchJobStatus  `json:"status" gorm:"type:varchar(16);not null;index:idx_batch_jobs_status_updated,priority:1"`
	Progress             int             `json:"progress" gorm:"not null;default:0"`
	TotalItems           int             `json:"total_items" gorm:"not null"`
	ProcessedItems       int             `json:"processed_items" gorm:"not null;default:0"`
	EstimatedTokens      int             `json:"estimated_tokens" gorm:"not null;default:0"`
	ActualTokens         int             `json:"actual_tokens" gorm:"not null;default:0"`
	CreditsPreAuthorized decimal.Decimal `json:"credits_pre_authorized" gorm:"type:numeric(20,4);not null;default:0"`
	CreditsUsed          decimal.Decimal `json:"credits_used" gorm:"type:numeric(20,4);not null;default:0"`
	Model                string          `json:"model" gorm:"type:varchar(64);not null"`
	SystemPrompt         string          `json:"system_prompt,omitempty" gorm:"type:text"`
	Items                BatchItems      `json:"-" gorm:"type:jsonb;not null"`
	ErrorMessage         string          `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt            time.Time       `json:"created_at" gorm:"autoCreateTime;index:idx_batch_jobs_user_created,priority:2,sort:desc"`
	UpdatedAt            time.Time       `json:"updated_at" gorm:"autoUpdateTime;index:idx_batch_jobs_status_updated,priority:2"`
	StartedAt            *time.Time      `json:"started_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

func (BatchJob) TableName() string {
	return "batch_jobs"
}

// NewBatchJob 创建待处理任务
func NewBatchJob(userID string, agentID *string, model, systemPrompt string, items []BatchItem, estimatedTokens int, preAuthorized decimal.Decimal) *BatchJob {
	return &BatchJob{
		ID:                   uuid.NewString(),
		UserID:               userID,
		AgentID:              agentID,
		Status:               BatchJobStatusPending,
		TotalItems:           len(items),
		EstimatedTokens:      estimatedTokens,
		CreditsPreAuthorized: preAuthorized,
		CreditsUsed:          decimal.Zero,
		Model:                model,
		SystemPrompt:         systemPrompt,
		Items:                items,
		CreatedAt:            time.Now(),
	}
}

// IsTerminal 已完成或已失败的任务不再迁移
func (j *BatchJob) IsTerminal() bool {
	return j.Status == BatchJobStatusCompleted || j.Status == BatchJobStatusFailed
}

// IsCancelable 检查任务是否可取消
func (j *BatchJob) IsCancelable() bool {
	return j.Status == BatchJobStatusPending || j.Status == BatchJobStatusProcessing
}

// Start 开始执行任务
func (j *BatchJob) Start() {
	now := time.Now()
	j.Status = BatchJobStatusProcessing
	j.StartedAt = &now
}

// Complete 完成任务
func (j *BatchJob) Complete() {
	now := time.Now()
	j.Status = BatchJobStatusCompleted
	j.Progress = 100
	j.CompletedAt = &now
}

// Fail 任务失败
func (j *BatchJob) Fail(errMsg string) {
	now := time.Now()
	j.Status = BatchJobStatusFailed
	j.ErrorMessage = errMsg
	j.CompletedAt = &now
}

// OutstandingHold 任务仍持有的预授权额度 = max(0, 预授权 - 已使用)
func (j *BatchJob) OutstandingHold() decimal.Decimal {
	remaining := j.CreditsPreAuthorized.Sub(j.CreditsUsed)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// RecordItem 记录一个已尝试的输入项，tokens/credits 为零表示该项失败
func (j *BatchJob) RecordItem(tokens int, credits decimal.Decimal) {
	j.ProcessedItems++
	j.ActualTokens += tokens
	j.CreditsUsed = j.CreditsUsed.Add(credits)
	if j.TotalItems > 0 {
		j.UpdateProgress(j.ProcessedItems * 100 / j.TotalItems)
	}
}

// UpdateProgress 更新任务进度
func (j *BatchJob) UpdateProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
}

// Clone 返回任务副本，供缓存持有
func (j *BatchJob) Clone() *BatchJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Items != nil {
		cp.Items = append(BatchItems(nil), j.Items...)
	}
	return &cp
}

// BatchItemResult 单个输入项的成功结果，只插入
type BatchItemResult struct {
	ID               string          `json:"id" gorm:"type:uuid;primaryKey"`
	JobID            string          `json:"job_id" gorm:"type:uuid;not null;index"`
	ItemID           string          `json:"item_id" gorm:"type:varchar(128);not null"`
	Input            string          `json:"input" gorm:"type:text"`
	Output           string          `json:"output" gorm:"type:text"`
	PromptTokens     int             `json:"prompt_tokens" gorm:"not null;default:0"`
	CompletionTokens int             `json:"completion_tokens" gorm:"not null;default:0"`
	TotalTokens      int             `json:"total_tokens" gorm:"not null;default:0"`
	Credits          decimal.Decimal `json:"credits" gorm:"type:numeric(20,4);not null;default:0"`
	CreatedAt        time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

func (BatchItemResult) TableName() string {
	return "batch_item_results"
}
