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
	"agent-credit-api/internal/domain/repository"
)

// BatchJobRepository 批处理任务仓储实现
type BatchJobRepository struct {
	client *Client
}

// NewBatchJobRepository 创建批处理任务仓储
func NewBatchJobRepository(client *Client) *BatchJobRepository {
	return &BatchJobRepository{client: client}
}

// Create 创建任务
func (r *BatchJobRepository) Create(ctx context.Context, job *entity.BatchJob) error {
	ctx, span := tracer.Start(ctx, "postgres.BatchJobRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(job).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create batch job: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取任务
func (r *BatchJobRepository) GetByID(ctx context.Context, id string) (*entity.BatchJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.BatchJobRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var job entity.BatchJob
	if err := db.First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get batch job: %w", err)
	}
	return &job, nil
}

// GetByIDForUpdate 锁定并获取任务
func (r *BatchJobRepository) GetByIDForUpdate(ctx context.Context, id string) (*entity.BatchJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.BatchJobRepository.GetByIDForUpdate")
	defer span.End()

	db := getDB(ctx, r.client.db).Clauses(clause.Locking{Strength: "UPDATE"})
	var job entity.BatchJob
	if err := db.First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get batch job for update: %w", err)
	}
	return &job, nil
}

// Update 更新任务
func (r *BatchJobRepository) Update(ctx context.Context, job *entity.BatchJob) error {
	ctx, span := tracer.Start(ctx, "postgres.BatchJobRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(job).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update batch job: %w", err)
	}
	return nil
}

// ListByUser 获取用户任务列表
func (r *BatchJobRepository) ListByUser(ctx context.Context, userID string, status entity.BatchJobStatus, pagination repository.Pagination) (*repository.PagedResult[*entity.BatchJob], error) {
	ctx, span := tracer.Start(ctx, "postgres.BatchJobRepository.ListByUser")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.BatchJob{}).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count batch jobs: %w", err)
	}

	var jobs []*entity.BatchJob
	if err := query.Omit("items").
		Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&jobs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list batch jobs: %w", err)
	}

	return repository.NewPagedResult(jobs, total, pagination), nil
}

// ListStale 获取长时间未更新的未结束任务
func (r *BatchJobRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*entity.BatchJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.BatchJobRepository.ListStale")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var jobs []*entity.BatchJob
	if err := db.Where("status IN ? AND updated_at < ?",
		[]entity.BatchJobStatus{entity.BatchJobStatusPending, entity.BatchJobStatusProcessing}, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list stale batch jobs: %w", err)
	}
	return jobs, nil
}

// BatchItemResultRepository 输入项结果仓储实现
type BatchItemResultRepository struct {
	client *Client
}

// NewBatchItemResultRepository 创建输入项结果仓储
func NewBatchItemResultRepository(client *Client) *BatchItemResultRepository {
	return &BatchItemResultRepository{client: client}
}

// Create 写入结果
func (r *BatchItemResultRepository) Create(ctx context.Context, result *entity.BatchItemResult) error {
	ctx, span := tracer.Start(ctx, "postgres.BatchItemResultRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(result).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create batch item result: %w", err)
	}
	return nil
}

// ListByJob 获取任务的全部结果
func (r *BatchItemResultRepository) ListByJob(ctx context.Context, jobID string) ([]*entity.BatchItemResult, error) {
	ctx, span := tracer.Start(ctx, "postgres.BatchItemResultRepository.ListByJob")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var results []*entity.BatchItemResult
	if err := db.Where("job_id = ?", jobID).Order("created_at ASC").Find(&results).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list batch item results: %w", err)
	}
	return results, nil
}
