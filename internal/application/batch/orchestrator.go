package batch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"agent-credit-api/internal/application/ledger"
	"agent-credit-api/internal/application/pricing"
	"agent-credit-api/internal/domain/entity"
	"agent-credit-api/internal/domain/repository"
	"agent-credit-api/internal/domain/service"
	apperrors "agent-credit-api/pkg/errors"
	"agent-credit-api/pkg/logger"
	"agent-credit-api/pkg/metrics"
)

var tracer = otel.Tracer("batch")

const (
	callerBatch    = "batch"
	reapBatchLimit = 100
)

// Config 编排器配置
type Config struct {
	DefaultModel     string
	SafetyMultiplier float64
	MaxItems         int
}

// Orchestrator 批处理任务编排器
//
// 单个任务内输入项严格串行；任务之间只通过存储层的行锁协调（先锁任务行，再锁账户行）。
type Orchestrator struct {
	jobs       repository.BatchJobRepository
	results    repository.BatchItemResultRepository
	txMgr      repository.Transactor
	ledger     Ledger
	engine     service.CompletionEngine
	cache      JobCache
	dispatcher Dispatcher
	cfg        Config

	lookups singleflight.Group
	running sync.WaitGroup
}

// NewOrchestrator 创建编排器，dispatcher 为 nil 时在进程内 goroutine 执行任务
func NewOrchestrator(
	jobs repository.BatchJobRepository,
	results repository.BatchItemResultRepository,
	txMgr repository.Transactor,
	ledgerSvc Ledger,
	engine service.CompletionEngine,
	cache JobCache,
	dispatcher Dispatcher,
	cfg Config,
) *Orchestrator {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.SafetyMultiplier <= 0 {
		cfg.SafetyMultiplier = pricing.DefaultSafetyMultiplier
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 500
	}
	if cache == nil {
		cache = NewMemoryJobCache(time.Hour)
	}
	return &Orchestrator{
		jobs:       jobs,
		results:    results,
		txMgr:      txMgr,
		ledger:     ledgerSvc,
		engine:     engine,
		cache:      cache,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// CreateJobInput 创建任务参数
type CreateJobInput struct {
	UserID       string
	AgentID      string
	Model        string
	SystemPrompt string
	Items        []entity.BatchItem
}

// Estimate 批处理费用预估
type Estimate struct {
	Model           string          `json:"model"`
	EstimatedTokens int             `json:"estimated_tokens"`
	EstimatedCost   decimal.Decimal `json:"estimated_credits"`
}

// EstimateJob 估算一批输入的 Token 与需要预授权的额度
func (o *Orchestrator) EstimateJob(model, systemPrompt string, items []entity.BatchItem) (*Estimate, error) {
	if model == "" {
		model = o.cfg.DefaultModel
	}
	if _, err := o.normalizeItems(items); err != nil {
		return nil, err
	}
	tokens := pricing.EstimateBatchTokens(items, systemPrompt, o.cfg.SafetyMultiplier)
	return &Estimate{
		Model:           model,
		EstimatedTokens: tokens,
		EstimatedCost:   pricing.CreditsForEstimatedTokens(tokens, model),
	}, nil
}

// CreateJob 校验余额、预授权并创建待处理任务，随后异步派发
func (o *Orchestrator) CreateJob(ctx context.Context, in CreateJobInput) (*entity.BatchJob, error) {
	ctx, span := tracer.Start(ctx, "batch.CreateJob")
	defer span.End()

	payload := map[string]any{"user_id": in.UserID, "agent_id": in.AgentID, "model": in.Model, "items": len(in.Items)}
	if in.UserID == "" {
		return nil, o.reject(ctx, "create", apperrors.ErrInvalidParam.WithDetail("user_id is required"), payload)
	}
	items, err := o.normalizeItems(in.Items)
	if err != nil {
		return nil, o.reject(ctx, "create", err, payload)
	}
	model := in.Model
	if model == "" {
		model = o.cfg.DefaultModel
	}

	tokens := pricing.EstimateBatchTokens(items, in.SystemPrompt, o.cfg.SafetyMultiplier)
	credits := pricing.CreditsForEstimatedTokens(tokens, model)
	span.SetAttributes(
		attribute.Int("batch.items", len(items)),
		attribute.Int("batch.estimated_tokens", tokens),
		attribute.String("batch.estimated_credits", credits.String()),
	)

	if !o.ledger.HasEnoughCredits(ctx, in.UserID, tokens, model) {
		metrics.BatchJobsTotal.WithLabelValues("rejected").Inc()
		return nil, o.reject(ctx, "create", apperrors.ErrInsufficientCredits.WithDetail(
			fmt.Sprintf("estimated %s credits for %d tokens", credits.StringFixed(2), tokens)), payload)
	}

	var agentID *string
	if in.AgentID != "" {
		agentID = &in.AgentID
	}
	job := entity.NewBatchJob(in.UserID, agentID, model, in.SystemPrompt, items, tokens, credits)
	ctx = logger.WithContext(ctx, logger.JobIDKey, job.ID)

	if credits.IsPositive() {
		if err := o.ledger.PreAuthorize(ctx, in.UserID, credits, job.ID); err != nil {
			metrics.BatchJobsTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
	}

	if err := o.jobs.Create(ctx, job); err != nil {
		o.releaseHold(ctx, job.UserID, credits, job.ID)
		return nil, o.reject(ctx, "create", apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to create batch job"), payload)
	}

	o.cache.Put(ctx, job)
	metrics.BatchJobsTotal.WithLabelValues("created").Inc()
	logger.Info(ctx, "batch job created",
		"user_id", job.UserID,
		"items", job.TotalItems,
		"estimated_tokens", tokens,
		"pre_authorized", credits.String(),
	)

	if err := o.dispatch(ctx, job); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

func (o *Orchestrator) dispatch(ctx context.Context, job *entity.BatchJob) error {
	if o.dispatcher == nil {
		o.running.Add(1)
		go func() {
			defer o.running.Done()
			_ = o.Process(context.WithoutCancel(ctx), job.ID)
		}()
		return nil
	}

	if err := o.dispatcher.Dispatch(ctx, job.ID, job.UserID); err != nil {
		o.failJob(context.WithoutCancel(ctx), job.ID, "dispatch failed: "+err.Error(), "failed")
		return o.reject(ctx, "dispatch", apperrors.ErrJobDispatchFailed.WithError(err), map[string]any{"job_id": job.ID})
	}
	return nil
}

// Process 执行任务，仅 pending 任务会被启动，重复投递安全
func (o *Orchestrator) Process(ctx context.Context, jobID string) (err error) {
	ctx = logger.WithContext(ctx, logger.JobIDKey, jobID)
	ctx = service.WithCaller(ctx, callerBatch)
	ctx, span := tracer.Start(ctx, "batch.Process")
	defer span.End()

	job, err := o.claim(ctx, jobID)
	if err != nil {
		logger.Error(ctx, "failed to start batch job", err)
		return err
	}
	if job == nil {
		return nil
	}

	started := time.Now()
	metrics.ActiveBatchJobs.Inc()
	defer metrics.ActiveBatchJobs.Dec()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("batch job panicked: %v", p)
			o.failJob(context.WithoutCancel(ctx), jobID, err.Error(), "failed")
		}
	}()

	for idx, item := range job.Items {
		current, err := o.jobs.GetByID(ctx, jobID)
		if err != nil {
			o.failJob(ctx, jobID, "failed to read job status: "+err.Error(), "failed")
			return err
		}
		if current == nil || current.Status != entity.BatchJobStatusProcessing {
			logger.Info(ctx, "batch job no longer processing, stopping", "next_item", idx)
			return nil
		}

		res, callErr := o.engine.Complete(ctx, buildMessages(job.SystemPrompt, item.Content), job.Model)
		if callErr == nil && (res == nil || strings.TrimSpace(res.Content) == "") {
			callErr = fmt.Errorf("empty completion output")
		}
		if callErr != nil {
			metrics.BatchItemsTotal.WithLabelValues("failed").Inc()
			logger.Warn(ctx, "batch item failed", "item_id", item.ID, "index", idx, "error", callErr.Error())
			if err := o.recordFailedItem(ctx, jobID); err != nil {
				o.failJob(ctx, jobID, err.Error(), "failed")
				return err
			}
			continue
		}

		stopped, err := o.commitItem(ctx, jobID, item, res)
		if apperrors.CodeOf(err) == apperrors.CodeInsufficientCredits {
			// 实际费用超出剩余预授权与可用余额：该项不计结果与费用，继续后续输入项
			metrics.BatchItemsTotal.WithLabelValues("failed").Inc()
			logger.Warn(ctx, "batch item charge refused, skipping", "item_id", item.ID, "index", idx, "error", err.Error())
			if err := o.recordFailedItem(ctx, jobID); err != nil {
				o.failJob(ctx, jobID, err.Error(), "failed")
				return err
			}
			continue
		}
		if err != nil {
			o.failJob(ctx, jobID, err.Error(), "failed")
			return err
		}
		metrics.BatchItemsTotal.WithLabelValues("succeeded").Inc()
		if stopped {
			logger.Info(ctx, "batch job canceled during item, stopping", "item_id", item.ID)
			return nil
		}
	}

	if err := o.completeJob(ctx, jobID); err != nil {
		o.failJob(ctx, jobID, err.Error(), "failed")
		return err
	}
	metrics.BatchJobDuration.WithLabelValues("completed").Observe(time.Since(started).Seconds())
	return nil
}

// claim 将 pending 任务置为 processing，其他状态返回 nil
func (o *Orchestrator) claim(ctx context.Context, jobID string) (*entity.BatchJob, error) {
	var claimed *entity.BatchJob
	err := o.txMgr.WithTransaction(ctx, func(ctx context.Context) error {
		job, err := o.jobs.GetByIDForUpdate(ctx, jobID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to load batch job")
		}
		if job == nil {
			return apperrors.ErrJobNotFound
		}
		if job.Status != entity.BatchJobStatusPending {
			logger.Info(ctx, "batch job already picked up", "status", string(job.Status))
			return nil
		}
		job.Start()
		if err := o.jobs.Update(ctx, job); err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to start batch job")
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed != nil {
		o.cache.Put(ctx, claimed)
	}
	return claimed, nil
}

// commitItem 在一个事务内扣费、写结果并推进进度；任务已被取消时直接扣费并返回 stopped
func (o *Orchestrator) commitItem(ctx context.Context, jobID string, item entity.BatchItem, res *service.CompletionResult) (bool, error) {
	var (
		stopped  bool
		snapshot *entity.BatchJob
	)
	err := o.txMgr.WithTransaction(ctx, func(ctx context.Context) error {
		job, err := o.jobs.GetByIDForUpdate(ctx, jobID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to lock batch job")
		}
		if job == nil {
			return apperrors.ErrJobNotFound
		}

		usage := billableUsage(job.SystemPrompt, item.Content, res)
		fromReservation := decimal.Zero
		if job.Status == entity.BatchJobStatusProcessing {
			fromReservation = decimal.Min(pricing.CreditsForUsage(usage, job.Model), job.OutstandingHold())
		} else {
			stopped = true
		}

		charge, err := o.ledger.TrackUsage(ctx, ledger.UsageInput{
			UserID:          job.UserID,
			AgentID:         derefString(job.AgentID),
			JobID:           job.ID,
			Usage:           usage,
			Model:           job.Model,
			FromReservation: fromReservation,
		})
		if err != nil {
			return err
		}

		if err := o.results.Create(ctx, &entity.BatchItemResult{
			ID:               uuid.NewString(),
			JobID:            job.ID,
			ItemID:           item.ID,
			Input:            item.Content,
			Output:           res.Content,
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
			Credits:          charge,
		}); err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to store item result")
		}

		job.RecordItem(usage.TotalTokens, charge)
		if err := o.jobs.Update(ctx, job); err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to update job progress")
		}
		snapshot = job
		return nil
	})
	if err != nil {
		return false, err
	}
	o.cache.Put(ctx, snapshot)
	return stopped, nil
}

// recordFailedItem 失败项计入已处理，不产生结果与费用
func (o *Orchestrator) recordFailedItem(ctx context.Context, jobID string) error {
	var snapshot *entity.BatchJob
	err := o.txMgr.WithTransaction(ctx, func(ctx context.Context) error {
		job, err := o.jobs.GetByIDForUpdate(ctx, jobID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to lock batch job")
		}
		if job == nil {
			return apperrors.ErrJobNotFound
		}
		if job.Status != entity.BatchJobStatusProcessing {
			return nil
		}
		job.RecordItem(0, decimal.Zero)
		if err := o.jobs.Update(ctx, job); err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to update job progress")
		}
		snapshot = job
		return nil
	})
	if err == nil && snapshot != nil {
		o.cache.Put(ctx, snapshot)
	}
	return err
}

// completeJob 全部输入项已尝试：置为 completed 并释放剩余预授权
func (o *Orchestrator) completeJob(ctx context.Context, jobID string) error {
	var snapshot *entity.BatchJob
	err := o.txMgr.WithTransaction(ctx, func(ctx context.Context) error {
		job, err := o.jobs.GetByIDForUpdate(ctx, jobID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to lock batch job")
		}
		if job == nil {
			return apperrors.ErrJobNotFound
		}
		if job.Status != entity.BatchJobStatusProcessing {
			return nil
		}

		hold := job.OutstandingHold()
		job.Complete()
		if err := o.jobs.Update(ctx, job); err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to complete batch job")
		}
		if hold.IsPositive() {
			if err := o.ledger.Release(ctx, job.UserID, hold, job.ID); err != nil {
				return err
			}
		}
		snapshot = job
		return nil
	})
	if err != nil {
		return err
	}
	if snapshot != nil {
		o.cache.Put(ctx, snapshot)
		metrics.BatchJobsTotal.WithLabelValues("completed").Inc()
		logger.Info(ctx, "batch job completed",
			"processed", snapshot.ProcessedItems,
			"actual_tokens", snapshot.ActualTokens,
			"credits_used", snapshot.CreditsUsed.String(),
		)
	}
	return nil
}

// failJob 任务级失败：置为 failed 并释放全部剩余预授权，已结束的任务不变
func (o *Orchestrator) failJob(ctx context.Context, jobID, reason, outcome string) bool {
	return o.failJobIf(ctx, jobID, reason, outcome, nil)
}

// failJobIf 与 failJob 相同，但仅在锁定后的任务满足 guard 时迁移
func (o *Orchestrator) failJobIf(ctx context.Context, jobID, reason, outcome string, guard func(*entity.BatchJob) bool) bool {
	var snapshot *entity.BatchJob
	err := o.txMgr.WithTransaction(ctx, func(ctx context.Context) error {
		job, err := o.jobs.GetByIDForUpdate(ctx, jobID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to lock batch job")
		}
		if job == nil || job.IsTerminal() {
			return nil
		}
		if guard != nil && !guard(job) {
			return nil
		}
		hold := job.OutstandingHold()
		job.Fail(reason)
		if err := o.jobs.Update(ctx, job); err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to mark batch job failed")
		}
		if hold.IsPositive() {
			if err := o.ledger.Release(ctx, job.UserID, hold, job.ID); err != nil {
				return err
			}
		}
		snapshot = job
		return nil
	})
	if err != nil {
		logger.Error(ctx, "failed to reconcile failed batch job", err, "reason", reason)
		return false
	}
	if snapshot == nil {
		return false
	}

	o.cache.Put(ctx, snapshot)
	metrics.BatchJobsTotal.WithLabelValues(outcome).Inc()
	if snapshot.StartedAt != nil {
		metrics.BatchJobDuration.WithLabelValues(outcome).Observe(time.Since(*snapshot.StartedAt).Seconds())
	}
	logger.Warn(ctx, "batch job failed", "reason", reason, "processed", snapshot.ProcessedItems, "credits_used", snapshot.CreditsUsed.String())
	return true
}

// CancelJob 取消 pending/processing 任务并释放剩余预授权；执行中的输入项不会被打断
func (o *Orchestrator) CancelJob(ctx context.Context, jobID, userID string) error {
	ctx = logger.WithContext(ctx, logger.JobIDKey, jobID)
	ctx, span := tracer.Start(ctx, "batch.CancelJob")
	defer span.End()

	payload := map[string]any{"job_id": jobID, "user_id": userID}
	var snapshot *entity.BatchJob
	err := o.txMgr.WithTransaction(ctx, func(ctx context.Context) error {
		job, err := o.jobs.GetByIDForUpdate(ctx, jobID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to lock batch job")
		}
		if job == nil {
			return apperrors.ErrJobNotFound
		}
		if job.UserID != userID {
			return apperrors.ErrJobForbidden
		}
		if !job.IsCancelable() {
			return apperrors.ErrJobNotCancelable.WithDetail(fmt.Sprintf("job is %s", job.Status))
		}

		hold := job.OutstandingHold()
		job.Fail(entity.JobErrCanceledByUser)
		if err := o.jobs.Update(ctx, job); err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to cancel batch job")
		}
		if hold.IsPositive() {
			if err := o.ledger.Release(ctx, job.UserID, hold, job.ID); err != nil {
				return err
			}
		}
		snapshot = job
		return nil
	})
	if err != nil {
		return o.reject(ctx, "cancel", err, payload)
	}

	o.cache.Put(ctx, snapshot)
	metrics.BatchJobsTotal.WithLabelValues("canceled").Inc()
	logger.Info(ctx, "batch job canceled", "user_id", userID, "processed", snapshot.ProcessedItems, "credits_used", snapshot.CreditsUsed.String())
	return nil
}

// GetJobStatus 先查缓存，未命中时回源存储；同一任务的并发回源合并为一次
func (o *Orchestrator) GetJobStatus(ctx context.Context, jobID string) (*entity.BatchJob, error) {
	if job, ok := o.cache.Get(ctx, jobID); ok {
		return job, nil
	}

	v, err, _ := o.lookups.Do(jobID, func() (interface{}, error) {
		job, err := o.jobs.GetByID(ctx, jobID)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to load batch job")
		}
		if job == nil {
			return nil, apperrors.ErrJobNotFound
		}
		o.cache.Put(ctx, job)
		return job, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entity.BatchJob).Clone(), nil
}

// GetJob 读取任务状态并校验归属
func (o *Orchestrator) GetJob(ctx context.Context, jobID, userID string) (*entity.BatchJob, error) {
	job, err := o.GetJobStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, apperrors.ErrJobForbidden
	}
	return job, nil
}

// ListJobs 分页列出用户任务，status 为空表示全部
func (o *Orchestrator) ListJobs(ctx context.Context, userID string, status entity.BatchJobStatus, pagination repository.Pagination) (*repository.PagedResult[*entity.BatchJob], error) {
	result, err := o.jobs.ListByUser(ctx, userID, status, pagination)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to list batch jobs")
	}
	return result, nil
}

// GetJobResults 返回任务已成功输入项的结果
func (o *Orchestrator) GetJobResults(ctx context.Context, jobID, userID string) ([]*entity.BatchItemResult, error) {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to load batch job")
	}
	if job == nil {
		return nil, apperrors.ErrJobNotFound
	}
	if job.UserID != userID {
		return nil, apperrors.ErrJobForbidden
	}

	results, err := o.results.ListByJob(ctx, jobID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to list item results")
	}
	return results, nil
}

// ReapStaleJobs 将超过 olderThan 未推进的未结束任务置为 interrupted 并释放预授权
func (o *Orchestrator) ReapStaleJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "batch.ReapStaleJobs")
	defer span.End()

	before := time.Now().Add(-olderThan)
	stale, err := o.jobs.ListStale(ctx, before, reapBatchLimit)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to list stale batch jobs")
	}

	reaped := 0
	for _, job := range stale {
		jobCtx := logger.WithContext(ctx, logger.JobIDKey, job.ID)
		stillStale := func(j *entity.BatchJob) bool { return j.UpdatedAt.Before(before) }
		if o.failJobIf(jobCtx, job.ID, entity.JobErrInterrupted, "interrupted", stillStale) {
			reaped++
		}
	}
	span.SetAttributes(attribute.Int("batch.reaped", reaped))
	if reaped > 0 {
		logger.Warn(ctx, "stale batch jobs reaped", "count", reaped)
	}
	return reaped, nil
}

// Wait 等待进程内运行的任务结束
func (o *Orchestrator) Wait() {
	o.running.Wait()
}

func (o *Orchestrator) releaseHold(ctx context.Context, userID string, amount decimal.Decimal, ref string) {
	if !amount.IsPositive() {
		return
	}
	if err := o.ledger.Release(ctx, userID, amount, ref); err != nil {
		logger.Error(ctx, "failed to release hold for unsaved job", err, "user_id", userID, "amount", amount.String())
	}
}

func (o *Orchestrator) reject(ctx context.Context, op string, err error, payload any) error {
	logger.Failure(ctx, "batch."+op, err, payload)
	return err
}

// normalizeItems 校验输入项数量与内容，缺失的 ID 以序号补齐
func (o *Orchestrator) normalizeItems(items []entity.BatchItem) ([]entity.BatchItem, error) {
	if len(items) == 0 {
		return nil, apperrors.ErrValidationFailed.WithDetail("at least one item is required")
	}
	if len(items) > o.cfg.MaxItems {
		return nil, apperrors.ErrValidationFailed.WithDetail(fmt.Sprintf("at most %d items are allowed", o.cfg.MaxItems))
	}

	out := make([]entity.BatchItem, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.Content) == "" {
			return nil, apperrors.ErrValidationFailed.WithDetail(fmt.Sprintf("item %d has empty content", i))
		}
		if item.ID == "" {
			item.ID = strconv.Itoa(i + 1)
		}
		if _, dup := seen[item.ID]; dup {
			return nil, apperrors.ErrValidationFailed.WithDetail(fmt.Sprintf("duplicate item id %q", item.ID))
		}
		seen[item.ID] = struct{}{}
		out[i] = item
	}
	return out, nil
}

func buildMessages(systemPrompt, content string) []service.ChatMessage {
	msgs := make([]service.ChatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, service.ChatMessage{Role: service.RoleSystem, Content: systemPrompt})
	}
	return append(msgs, service.ChatMessage{Role: service.RoleUser, Content: content})
}

// billableUsage 提供方未上报用量时按文本长度估算
func billableUsage(systemPrompt, input string, res *service.CompletionResult) service.TokenUsage {
	usage := res.Usage.Normalize()
	if usage.TotalTokens > 0 {
		return usage
	}
	return service.TokenUsage{
		PromptTokens:     pricing.EstimateTextTokens(systemPrompt) + pricing.EstimateTextTokens(input),
		CompletionTokens: pricing.EstimateTextTokens(res.Content),
	}.Normalize()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
