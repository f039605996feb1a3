package redis

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"agent-credit-api/internal/domain/entity"
	"agent-credit-api/pkg/logger"
)

const jobCacheKeyPrefix = "batch:job:"

// JobCache 基于 Redis 的分布式任务状态缓存
// 缓存不是权威数据源，读写失败只记录日志并按未命中处理
type JobCache struct {
	client *Client
	ttl    time.Duration
}

// NewJobCache 创建任务状态缓存
func NewJobCache(client *Client, ttl time.Duration) *JobCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JobCache{client: client, ttl: ttl}
}

func jobCacheKey(jobID string) string {
	return jobCacheKeyPrefix + jobID
}

// Get 读取任务快照
func (c *JobCache) Get(ctx context.Context, jobID string) (*entity.BatchJob, bool) {
	ctx, span := tracer.Start(ctx, "redis.JobCache.Get",
		trace.WithAttributes(attribute.String("batch.job_id", jobID)))
	defer span.End()

	raw, err := c.client.rdb.Get(ctx, jobCacheKey(jobID)).Bytes()
	if err != nil {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		if !IsNil(err) {
			span.RecordError(err)
			logger.Warn(ctx, "job cache get failed", "job_id", jobID, "error", err.Error())
		}
		return nil, false
	}

	var job entity.BatchJob
	if err := json.Unmarshal(raw, &job); err != nil {
		span.RecordError(err)
		logger.Warn(ctx, "job cache entry corrupted", "job_id", jobID, "error", err.Error())
		return nil, false
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return &job, true
}

// Put 写入任务快照，终态任务同样保留到 TTL 过期
func (c *JobCache) Put(ctx context.Context, job *entity.BatchJob) {
	ctx, span := tracer.Start(ctx, "redis.JobCache.Put",
		trace.WithAttributes(
			attribute.String("batch.job_id", job.ID),
			attribute.String("batch.status", string(job.Status)),
		))
	defer span.End()

	raw, err := json.Marshal(job)
	if err != nil {
		span.RecordError(err)
		logger.Warn(ctx, "job cache encode failed", "job_id", job.ID, "error", err.Error())
		return
	}
	if err := c.client.rdb.Set(ctx, jobCacheKey(job.ID), raw, c.ttl).Err(); err != nil {
		span.RecordError(err)
		logger.Warn(ctx, "job cache put failed", "job_id", job.ID, "error", err.Error())
	}
}

// Evict 删除任务快照
func (c *JobCache) Evict(ctx context.Context, jobID string) {
	ctx, span := tracer.Start(ctx, "redis.JobCache.Evict",
		trace.WithAttributes(attribute.String("batch.job_id", jobID)))
	defer span.End()

	if err := c.client.rdb.Del(ctx, jobCacheKey(jobID)).Err(); err != nil {
		span.RecordError(err)
		logger.Warn(ctx, "job cache evict failed", "job_id", jobID, "error", err.Error())
	}
}
