// Package memory 提供进程内仓储实现，支持事务回滚与错误注入，用于单元测试与本地演示
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"agent-credit-api/internal/domain/entity"
	"agent-credit-api/internal/domain/repository"
)

type txKey struct{}

var errAccountMissing = errors.New("memory: credit account not found")

// Store 进程内数据集
//
// 最外层事务持有 txMu 串行执行，返回错误时恢复到事务开始前的快照。
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	credits map[string]entity.UserCredit
	audits  []entity.CreditAuditLog
	jobs    map[string]*entity.BatchJob
	results []entity.BatchItemResult

	failures map[string]error
}

// NewStore 创建空数据集
func NewStore() *Store {
	return &Store{
		credits:  make(map[string]entity.UserCredit),
		jobs:     make(map[string]*entity.BatchJob),
		failures: make(map[string]error),
	}
}

// FailOn 令指定方法（如 "credits.UpdateBalance"）返回 err，nil 表示清除
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) injected(method string) error {
	return s.failures[method]
}

type snapshot struct {
	credits map[string]entity.UserCredit
	audits  []entity.CreditAuditLog
	jobs    map[string]*entity.BatchJob
	results []entity.BatchItemResult
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		credits: make(map[string]entity.UserCredit, len(s.credits)),
		audits:  append([]entity.CreditAuditLog(nil), s.audits...),
		jobs:    make(map[string]*entity.BatchJob, len(s.jobs)),
		results: append([]entity.BatchItemResult(nil), s.results...),
	}
	for k, v := range s.credits {
		snap.credits[k] = v
	}
	for k, v := range s.jobs {
		snap.jobs[k] = v.Clone()
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits = snap.credits
	s.audits = snap.audits
	s.jobs = snap.jobs
	s.results = snap.results
}

// WithTransaction 实现 repository.Transactor，嵌套调用复用外层事务
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		return err
	}
	committed = true
	return nil
}

// Credits 账户仓储
func (s *Store) Credits() *CreditRepository { return &CreditRepository{s: s} }

// Audits 审计日志仓储
func (s *Store) Audits() *AuditLogRepository { return &AuditLogRepository{s: s} }

// Jobs 任务仓储
func (s *Store) Jobs() *BatchJobRepository { return &BatchJobRepository{s: s} }

// Results 结果仓储
func (s *Store) Results() *BatchItemResultRepository { return &BatchItemResultRepository{s: s} }

// AuditLogs 返回用户的全部审计日志（按写入顺序）
func (s *Store) AuditLogs(userID string) []entity.CreditAuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.CreditAuditLog
	for _, l := range s.audits {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out
}

// Account 返回账户当前状态
func (s *Store) Account(userID string) (entity.UserCredit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credits[userID]
	return c, ok
}

// PutAccount 直接写入账户，绕过账本
func (s *Store) PutAccount(c entity.UserCredit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits[c.UserID] = c
}

// Job 返回任务当前状态
func (s *Store) Job(id string) (*entity.BatchJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j.Clone(), ok
}

// CreditRepository 账户仓储
type CreditRepository struct{ s *Store }

var _ repository.CreditRepository = (*CreditRepository)(nil)

func (r *CreditRepository) Create(_ context.Context, credit *entity.UserCredit) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("credits.Create"); err != nil {
		return false, err
	}
	if _, ok := r.s.credits[credit.UserID]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	credit.CreatedAt, credit.UpdatedAt = now, now
	r.s.credits[credit.UserID] = *credit
	return true, nil
}

func (r *CreditRepository) GetByUserID(_ context.Context, userID string) (*entity.UserCredit, error) {
	return r.get("credits.GetByUserID", userID)
}

func (r *CreditRepository) GetByUserIDForUpdate(_ context.Context, userID string) (*entity.UserCredit, error) {
	return r.get("credits.GetByUserIDForUpdate", userID)
}

func (r *CreditRepository) get(method, userID string) (*entity.UserCredit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected(method); err != nil {
		return nil, err
	}
	c, ok := r.s.credits[userID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *CreditRepository) UpdateBalance(_ context.Context, credit *entity.UserCredit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("credits.UpdateBalance"); err != nil {
		return err
	}
	if _, ok := r.s.credits[credit.UserID]; !ok {
		return errAccountMissing
	}
	credit.UpdatedAt = time.Now().UTC()
	r.s.credits[credit.UserID] = *credit
	return nil
}

// AuditLogRepository 审计日志仓储
type AuditLogRepository struct{ s *Store }

var _ repository.AuditLogRepository = (*AuditLogRepository)(nil)

func (r *AuditLogRepository) Append(_ context.Context, entry *entity.CreditAuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("audits.Append"); err != nil {
		return err
	}
	r.s.audits = append(r.s.audits, *entry)
	return nil
}

func (r *AuditLogRepository) List(_ context.Context, filter repository.AuditLogFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.CreditAuditLog], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("audits.List"); err != nil {
		return nil, err
	}

	var matched []*entity.CreditAuditLog
	for i := len(r.s.audits) - 1; i >= 0; i-- {
		l := r.s.audits[i]
		if filter.UserID != "" && l.UserID != filter.UserID {
			continue
		}
		if len(filter.OperationTypes) > 0 && !containsOp(filter.OperationTypes, l.OperationType) {
			continue
		}
		if filter.Since != nil && l.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && !l.CreatedAt.Before(*filter.Until) {
			continue
		}
		matched = append(matched, &l)
	}

	return repository.NewPagedResult(page(matched, pagination), int64(len(matched)), pagination), nil
}

func containsOp(ops []entity.CreditOperation, op entity.CreditOperation) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

// BatchJobRepository 任务仓储
type BatchJobRepository struct{ s *Store }

var _ repository.BatchJobRepository = (*BatchJobRepository)(nil)

func (r *BatchJobRepository) Create(_ context.Context, job *entity.BatchJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("jobs.Create"); err != nil {
		return err
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	r.s.jobs[job.ID] = job.Clone()
	return nil
}

func (r *BatchJobRepository) GetByID(_ context.Context, id string) (*entity.BatchJob, error) {
	return r.get("jobs.GetByID", id)
}

func (r *BatchJobRepository) GetByIDForUpdate(_ context.Context, id string) (*entity.BatchJob, error) {
	return r.get("jobs.GetByIDForUpdate", id)
}

func (r *BatchJobRepository) get(method, id string) (*entity.BatchJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected(method); err != nil {
		return nil, err
	}
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, nil
	}
	return j.Clone(), nil
}

func (r *BatchJobRepository) Update(_ context.Context, job *entity.BatchJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("jobs.Update"); err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	r.s.jobs[job.ID] = job.Clone()
	return nil
}

func (r *BatchJobRepository) ListByUser(_ context.Context, userID string, status entity.BatchJobStatus, pagination repository.Pagination) (*repository.PagedResult[*entity.BatchJob], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("jobs.ListByUser"); err != nil {
		return nil, err
	}

	var matched []*entity.BatchJob
	for _, j := range r.s.jobs {
		if j.UserID != userID || (status != "" && j.Status != status) {
			continue
		}
		cp := j.Clone()
		cp.Items = nil
		matched = append(matched, cp)
	}
	sort.Slice(matched, func(a, b int) bool { return matched[a].CreatedAt.After(matched[b].CreatedAt) })

	return repository.NewPagedResult(page(matched, pagination), int64(len(matched)), pagination), nil
}

func (r *BatchJobRepository) ListStale(_ context.Context, before time.Time, limit int) ([]*entity.BatchJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("jobs.ListStale"); err != nil {
		return nil, err
	}

	var out []*entity.BatchJob
	for _, j := range r.s.jobs {
		if j.IsCancelable() && j.UpdatedAt.Before(before) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetUpdatedAt 调整任务更新时间，用于模拟长时间无进展的任务
func (s *Store) SetUpdatedAt(id string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.UpdatedAt = t
	}
}

// BatchItemResultRepository 结果仓储
type BatchItemResultRepository struct{ s *Store }

var _ repository.BatchItemResultRepository = (*BatchItemResultRepository)(nil)

func (r *BatchItemResultRepository) Create(_ context.Context, result *entity.BatchItemResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("results.Create"); err != nil {
		return err
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	r.s.results = append(r.s.results, *result)
	return nil
}

func (r *BatchItemResultRepository) ListByJob(_ context.Context, jobID string) ([]*entity.BatchItemResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("results.ListByJob"); err != nil {
		return nil, err
	}

	var out []*entity.BatchItemResult
	for i := range r.s.results {
		if r.s.results[i].JobID == jobID {
			res := r.s.results[i]
			out = append(out, &res)
		}
	}
	return out, nil
}

func page[T any](items []T, p repository.Pagination) []T {
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.Limit()
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
