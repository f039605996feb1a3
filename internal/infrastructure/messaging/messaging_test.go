package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "agent-credit-api/pkg/errors"
	"agent-credit-api/pkg/logger"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

type recordingProcessor struct {
	mu   sync.Mutex
	err  error
	seen chan string
}

func newRecordingProcessor(err error) *recordingProcessor {
	return &recordingProcessor{err: err, seen: make(chan string, 8)}
}

func (p *recordingProcessor) Process(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen <- jobID
	return p.err
}

func startConsumer(t *testing.T, rdb *redis.Client, proc JobProcessor, retryLimit int) *Consumer {
	t.Helper()
	consumer := NewConsumer(rdb, proc, ConsumerConfig{
		ConsumerName: "worker-test",
		BlockTimeout: 50 * time.Millisecond,
		RetryLimit:   retryLimit,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = consumer.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		consumer.Stop()
	})
	return consumer
}

func waitJob(t *testing.T, proc *recordingProcessor) string {
	t.Helper()
	select {
	case id := <-proc.seen:
		return id
	case <-time.After(3 * time.Second):
		t.Fatal("processor was not invoked")
		return ""
	}
}

func TestProducer_DispatchWritesEnvelope(t *testing.T) {
	rdb := newTestRedis(t)
	producer := NewProducer(rdb, 0)

	ctx := logger.WithContext(context.Background(), logger.RequestIDKey, "req-1")
	require.NoError(t, producer.Dispatch(ctx, "job-1", "user-1"))

	entries, err := rdb.XRange(context.Background(), string(StreamBatchJob), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	env, job, err := decodeEnvelope(entries[0].Values)
	require.NoError(t, err)
	assert.Equal(t, "job-1", env.ID)
	assert.Equal(t, MessageTypeBatchJob, env.Type)
	assert.Equal(t, "req-1", env.Metadata["request_id"])
	assert.Equal(t, BatchJobMessage{JobID: "job-1", UserID: "user-1"}, *job)
}

func TestDecodeEnvelope_RejectsForeignMessages(t *testing.T) {
	_, _, err := decodeEnvelope(map[string]interface{}{})
	assert.Error(t, err)

	_, _, err = decodeEnvelope(map[string]interface{}{"data": "{not json"})
	assert.Error(t, err)

	raw, _ := json.Marshal(Envelope{Type: "report_export", Payload: json.RawMessage(`{}`)})
	_, _, err = decodeEnvelope(map[string]interface{}{"data": string(raw)})
	assert.Error(t, err)

	raw, _ = json.Marshal(Envelope{Type: MessageTypeBatchJob, Payload: json.RawMessage(`{"user_id":"u"}`)})
	_, _, err = decodeEnvelope(map[string]interface{}{"data": string(raw)})
	assert.Error(t, err, "job id is required")
}

func TestConsumer_ProcessesAndAcks(t *testing.T) {
	rdb := newTestRedis(t)
	proc := newRecordingProcessor(nil)
	startConsumer(t, rdb, proc, 3)

	require.NoError(t, NewProducer(rdb, 0).Dispatch(context.Background(), "job-2", "user-2"))
	assert.Equal(t, "job-2", waitJob(t, proc))

	assert.Eventually(t, func() bool {
		summary, err := rdb.XPending(context.Background(), string(StreamBatchJob), string(ConsumerGroupBatchWorker)).Result()
		return err == nil && summary.Count == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConsumer_SecondRunRejected(t *testing.T) {
	rdb := newTestRedis(t)
	consumer := startConsumer(t, rdb, newRecordingProcessor(nil), 3)

	assert.Eventually(t, func() bool { return consumer.running.Load() }, time.Second, 10*time.Millisecond)
	assert.Error(t, consumer.Run(context.Background()))
}

func TestConsumer_MissingJobGoesToDeadLetter(t *testing.T) {
	rdb := newTestRedis(t)
	proc := newRecordingProcessor(apperrors.ErrJobNotFound)
	startConsumer(t, rdb, proc, 5)

	require.NoError(t, NewProducer(rdb, 0).Dispatch(context.Background(), "ghost", "user-3"))
	waitJob(t, proc)

	var letter DeadLetter
	assert.Eventually(t, func() bool {
		entries, err := rdb.XRange(context.Background(), StreamBatchJob.DLQStream(), "-", "+").Result()
		if err != nil || len(entries) != 1 {
			return false
		}
		raw, _ := entries[0].Values["data"].(string)
		return json.Unmarshal([]byte(raw), &letter) == nil
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, string(StreamBatchJob), letter.OriginalStream)
	assert.Equal(t, 1, letter.Attempts)
	assert.Contains(t, letter.Error, "not found")
}

func TestConsumer_RetryLimitReachedGoesToDeadLetter(t *testing.T) {
	rdb := newTestRedis(t)
	proc := newRecordingProcessor(errors.New("engine unavailable"))
	startConsumer(t, rdb, proc, 1)

	require.NoError(t, NewProducer(rdb, 0).Dispatch(context.Background(), "job-4", "user-4"))
	waitJob(t, proc)

	assert.Eventually(t, func() bool {
		n, err := rdb.XLen(context.Background(), StreamBatchJob.DLQStream()).Result()
		return err == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestBackoff_DelayGrowsAndIsCapped(t *testing.T) {
	cfg := DefaultBackoffConfig()
	assert.Equal(t, cfg.Initial, cfg.Delay(1))
	assert.Equal(t, 2*cfg.Initial, cfg.Delay(2))
	assert.Equal(t, cfg.Max, cfg.Delay(50))
	assert.Equal(t, time.Second, BackoffConfig{}.Delay(1))
}

func TestStream_DLQStream(t *testing.T) {
	assert.Equal(t, "dlq:stream:batch:job", StreamBatchJob.DLQStream())
}
