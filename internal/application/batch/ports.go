// Package batch 实现批处理任务编排：预估、预授权、逐项执行、对账与取消
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"agent-credit-api/internal/application/ledger"
	"agent-credit-api/internal/domain/entity"
)

// Ledger 编排器依赖的账本能力
type Ledger interface {
	HasEnoughCredits(ctx context.Context, userID string, estimatedTokens int, model string) bool
	PreAuthorize(ctx context.Context, userID string, amount decimal.Decimal, ref string) error
	Release(ctx context.Context, userID string, amount decimal.Decimal, ref string) error
	TrackUsage(ctx context.Context, in ledger.UsageInput) (decimal.Decimal, error)
}

// JobCache 任务状态缓存，非权威数据源
type JobCache interface {
	Get(ctx context.Context, jobID string) (*entity.BatchJob, bool)
	Put(ctx context.Context, job *entity.BatchJob)
	Evict(ctx context.Context, jobID string)
}

// Dispatcher 将任务交给异步执行方（如 Redis Stream 上的 job-worker）
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID, userID string) error
}

// MemoryJobCache 进程内任务缓存
type MemoryJobCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	job       *entity.BatchJob
	expiresAt time.Time
}

// NewMemoryJobCache 创建进程内任务缓存
func NewMemoryJobCache(ttl time.Duration) *MemoryJobCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryJobCache{ttl: ttl, entries: make(map[string]memoryEntry)}
}

func (c *MemoryJobCache) Get(_ context.Context, jobID string) (*entity.BatchJob, bool) {
	c.mu.RLock()
	e, ok := c.entries[jobID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, jobID)
		c.mu.Unlock()
		return nil, false
	}
	return e.job.Clone(), true
}

func (c *MemoryJobCache) Put(_ context.Context, job *entity.BatchJob) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[job.ID] = memoryEntry{job: job.Clone(), expiresAt: time.Now().Add(c.ttl)}
}

func (c *MemoryJobCache) Evict(_ context.Context, jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, jobID)
}
