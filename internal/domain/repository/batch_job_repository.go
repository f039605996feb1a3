package repository

import (
	"context"
	"time"

	"agent-credit-api/internal/domain/entity"
)

// BatchJobRepository 批处理任务仓储接口
type BatchJobRepository interface {
	// Create 创建任务
	Create(ctx context.Context, job *entity.BatchJob) error

	// GetByID 根据 ID 获取任务
	GetByID(ctx context.Context, id string) (*entity.BatchJob, error)

	// GetByIDForUpdate 在事务内锁定并获取任务
	GetByIDForUpdate(ctx context.Context, id string) (*entity.BatchJob, error)

	// Update 更新任务
	Update(ctx context.Context, job *entity.BatchJob) error

	// ListByUser 获取用户任务列表
	ListByUser(ctx context.Context, userID string, status entity.BatchJobStatus, pagination Pagination) (*PagedResult[*entity.BatchJob], error)

	// ListStale 获取在 before 之前未更新的未结束任务
	ListStale(ctx context.Context, before time.Time, limit int) ([]*entity.BatchJob, error)
}

// BatchItemResultRepository 输入项结果仓储接口，只插入
type BatchItemResultRepository interface {
	// Create 写入一条结果
	Create(ctx context.Context, result *entity.BatchItemResult) error

	// ListByJob 获取任务的全部结果
	ListByJob(ctx context.Context, jobID string) ([]*entity.BatchItemResult, error)
}
