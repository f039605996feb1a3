package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-credit-api/internal/domain/entity"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientFromRedis(rdb), mr
}

func TestJobCache_PutGetEvict(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewJobCache(client, time.Minute)
	ctx := context.Background()

	job := entity.NewBatchJob("u1", nil, "gpt-4o", "", []entity.BatchItem{{ID: "1", Content: "hi"}}, 10, decimal.NewFromInt(5))
	job.Start()
	job.RecordItem(12, decimal.RequireFromString("0.25"))

	_, ok := cache.Get(ctx, job.ID)
	assert.False(t, ok)

	cache.Put(ctx, job)
	assert.True(t, mr.Exists(jobCacheKey(job.ID)))
	assert.Equal(t, time.Minute, mr.TTL(jobCacheKey(job.ID)))

	got, ok := cache.Get(ctx, job.ID)
	require.True(t, ok)
	assert.Equal(t, entity.BatchJobStatusProcessing, got.Status)
	assert.Equal(t, 1, got.ProcessedItems)
	assert.Equal(t, 100, got.Progress)
	assert.True(t, decimal.RequireFromString("0.25").Equal(got.CreditsUsed))

	cache.Evict(ctx, job.ID)
	_, ok = cache.Get(ctx, job.ID)
	assert.False(t, ok)
}

func TestJobCache_CorruptedEntryIsMiss(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewJobCache(client, time.Minute)

	require.NoError(t, mr.Set(jobCacheKey("bad"), "{not json"))

	_, ok := cache.Get(context.Background(), "bad")
	assert.False(t, ok)
}

func TestRateLimiter_TakeExhaustsWindow(t *testing.T) {
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()
	key := "ratelimit:u1:/v1/batch-jobs"

	for i := 0; i < 3; i++ {
		allowed, remaining, _, err := limiter.Take(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i)
		assert.Equal(t, 2-i, remaining)
	}

	allowed, remaining, retryAfter, err := limiter.Take(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Minute)

	other, _, _, err := limiter.Take(ctx, "ratelimit:u2:/v1/batch-jobs", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other, "keys are counted independently")
}

func TestJobCache_PutAppliesTTL(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewJobCache(client, 0)

	job := entity.NewBatchJob("u1", nil, "gpt-4o", "", []entity.BatchItem{{ID: "1", Content: "a"}}, 2, decimal.NewFromInt(1))
	cache.Put(context.Background(), job)

	assert.Equal(t, time.Hour, mr.TTL(jobCacheKey(job.ID)))
}

func TestClient_HealthCheck(t *testing.T) {
	client, mr := newTestClient(t)
	require.NoError(t, client.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, client.HealthCheck(context.Background()))
}
