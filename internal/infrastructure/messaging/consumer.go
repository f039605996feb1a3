package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "agent-credit-api/pkg/errors"
	"agent-credit-api/pkg/logger"
	"agent-credit-api/pkg/metrics"
	apptracer "agent-credit-api/pkg/tracer"
)

// JobProcessor 执行单个批处理任务，对已结束的任务应返回 nil
type JobProcessor interface {
	Process(ctx context.Context, jobID string) error
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Group         ConsumerGroup
	ConsumerName  string
	BlockTimeout  time.Duration
	ClaimInterval time.Duration
	// ReclaimIdle 其他消费者的消息空闲超过该时长后被接管
	ReclaimIdle time.Duration
	RetryLimit  int
	Backoff     BackoffConfig
	// DLQWarnThreshold 死信数量超过该值时输出告警日志，0 表示不告警
	DLQWarnThreshold int64
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Group == "" {
		c.Group = ConsumerGroupBatchWorker
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "batch-worker"
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = 30 * time.Second
	}
	if c.ReclaimIdle <= 0 {
		c.ReclaimIdle = 5 * time.Minute
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = 3
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff = DefaultBackoffConfig()
	}
	return c
}

const sweepBatch = 50

// Consumer 从 stream:batch:job 读取任务并交给 JobProcessor
// 失败的消息留在 PEL 中按退避重投，超过重试上限或不可恢复时转入死信流
type Consumer struct {
	rdb       *redis.Client
	processor JobProcessor
	cfg       ConsumerConfig

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewConsumer 创建消费者
func NewConsumer(rdb *redis.Client, processor JobProcessor, cfg ConsumerConfig) *Consumer {
	return &Consumer{
		rdb:       rdb,
		processor: processor,
		cfg:       cfg.withDefaults(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run 阻塞消费直到 ctx 结束或调用 Stop
func (c *Consumer) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("consumer already running")
	}
	defer close(c.done)

	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	logger.Info(ctx, "batch consumer started",
		"group", string(c.cfg.Group),
		"consumer", c.cfg.ConsumerName)

	var lastSweep time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		default:
		}

		if time.Since(lastSweep) >= c.cfg.ClaimInterval {
			c.sweep(ctx)
			lastSweep = time.Now()
		}

		if err := c.readNew(ctx); err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "failed to read batch stream", "error", err.Error())
			select {
			case <-ctx.Done():
			case <-c.stopCh:
			case <-time.After(time.Second):
			}
		}
	}
}

// Stop 停止消费并等待当前消息处理完成
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.running.Load() {
		<-c.done
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, string(StreamBatchJob), string(c.cfg.Group), "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", c.cfg.Group, err)
	}
	return nil
}

func (c *Consumer) readNew(ctx context.Context) error {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    string(c.cfg.Group),
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{string(StreamBatchJob), ">"},
		Count:    10,
		Block:    c.cfg.BlockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, s := range streams {
		for _, msg := range s.Messages {
			c.handle(ctx, msg, 1)
		}
	}
	return nil
}

// sweep 接管失联消费者的消息，重投到期的 pending 消息并上报积压
func (c *Consumer) sweep(ctx context.Context) {
	c.reclaimAbandoned(ctx)
	c.retryDue(ctx)
	c.reportBacklog(ctx)
}

func (c *Consumer) reclaimAbandoned(ctx context.Context) {
	// JUSTID 不增加投递计数，重试次数以实际处理为准
	ids, _, err := c.rdb.XAutoClaimJustID(ctx, &redis.XAutoClaimArgs{
		Stream:   string(StreamBatchJob),
		Group:    string(c.cfg.Group),
		Consumer: c.cfg.ConsumerName,
		MinIdle:  c.cfg.ReclaimIdle,
		Start:    "0-0",
		Count:    sweepBatch,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logger.Warn(ctx, "failed to reclaim abandoned batch messages", "error", err.Error())
		return
	}
	if len(ids) > 0 {
		logger.Info(ctx, "reclaimed abandoned batch messages", "count", len(ids))
	}
}

func (c *Consumer) retryDue(ctx context.Context) {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   string(StreamBatchJob),
		Group:    string(c.cfg.Group),
		Consumer: c.cfg.ConsumerName,
		Start:    "-",
		End:      "+",
		Count:    sweepBatch,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn(ctx, "failed to list pending batch messages", "error", err.Error())
		}
		return
	}

	for _, p := range pending {
		delivered := int(p.RetryCount)
		if delivered >= c.cfg.RetryLimit {
			c.deadLetterByID(ctx, p.ID, delivered, errors.New("retry limit exceeded"))
			continue
		}
		if p.Idle < c.cfg.Backoff.Delay(delivered) {
			continue
		}
		claimed, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   string(StreamBatchJob),
			Group:    string(c.cfg.Group),
			Consumer: c.cfg.ConsumerName,
			MinIdle:  p.Idle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			logger.Warn(ctx, "failed to claim pending batch message", "entry_id", p.ID, "error", err.Error())
			continue
		}
		for _, msg := range claimed {
			c.handle(ctx, msg, delivered+1)
		}
	}
}

func (c *Consumer) reportBacklog(ctx context.Context) {
	summary, err := c.rdb.XPending(ctx, string(StreamBatchJob), string(c.cfg.Group)).Result()
	if err == nil {
		metrics.StreamBacklog.WithLabelValues(string(StreamBatchJob), string(c.cfg.Group)).Set(float64(summary.Count))
	}

	dlq := StreamBatchJob.DLQStream()
	n, err := c.rdb.XLen(ctx, dlq).Result()
	if err != nil {
		return
	}
	metrics.StreamBacklog.WithLabelValues(dlq, string(c.cfg.Group)).Set(float64(n))
	if c.cfg.DLQWarnThreshold > 0 && n > c.cfg.DLQWarnThreshold {
		logger.Warn(ctx, "batch dead letter stream above threshold", "stream", dlq, "length", n)
	}
}

// handle 处理一次投递，attempt 为含本次在内的投递次数
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage, attempt int) {
	env, job, err := decodeEnvelope(msg.Values)
	if err != nil {
		c.deadLetter(ctx, msg, attempt, err)
		return
	}

	msgCtx := apptracer.Extract(ctx, env.Metadata)
	msgCtx = logger.WithContext(msgCtx, logger.UserIDKey, job.UserID)
	if reqID := env.Metadata["request_id"]; reqID != "" {
		msgCtx = logger.WithContext(msgCtx, logger.RequestIDKey, reqID)
	}
	msgCtx, span := tracer.Start(msgCtx, "messaging.Consumer.handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("stream.entry_id", msg.ID),
			attribute.String("batch.job_id", job.JobID),
			attribute.Int("stream.attempt", attempt),
		))
	defer span.End()

	err = c.processor.Process(msgCtx, job.JobID)
	switch {
	case err == nil:
		c.ack(msgCtx, msg.ID)
		metrics.StreamDeliveries.WithLabelValues(string(StreamBatchJob), "success").Inc()
	case permanent(err):
		span.RecordError(err)
		c.deadLetter(msgCtx, msg, attempt, err)
	case attempt >= c.cfg.RetryLimit:
		span.RecordError(err)
		c.deadLetter(msgCtx, msg, attempt, err)
	default:
		span.RecordError(err)
		metrics.StreamDeliveries.WithLabelValues(string(StreamBatchJob), "retry").Inc()
		logger.Warn(msgCtx, "batch job delivery failed, will retry",
			"entry_id", msg.ID,
			"attempt", attempt,
			"error", err.Error())
	}
}

// permanent 任务已不存在时重投没有意义
func permanent(err error) bool {
	return apperrors.CodeOf(err) == apperrors.CodeJobNotFound
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, string(StreamBatchJob), string(c.cfg.Group), id).Err(); err != nil {
		logger.Warn(ctx, "failed to ack batch message", "entry_id", id, "error", err.Error())
	}
}

func (c *Consumer) deadLetterByID(ctx context.Context, id string, attempts int, cause error) {
	entries, err := c.rdb.XRangeN(ctx, string(StreamBatchJob), id, id, 1).Result()
	if err != nil {
		logger.Warn(ctx, "failed to load batch message for dead letter", "entry_id", id, "error", err.Error())
		return
	}
	if len(entries) == 0 {
		// 消息已被 MAXLEN 裁剪，只能确认
		c.ack(ctx, id)
		return
	}
	c.deadLetter(ctx, entries[0], attempts, cause)
}

func (c *Consumer) deadLetter(ctx context.Context, msg redis.XMessage, attempts int, cause error) {
	data, _ := msg.Values["data"].(string)
	record, err := json.Marshal(DeadLetter{
		OriginalStream: string(StreamBatchJob),
		EntryID:        msg.ID,
		Data:           data,
		Error:          cause.Error(),
		Attempts:       attempts,
		FailedAt:       time.Now().UTC(),
	})
	if err != nil {
		logger.Error(ctx, "failed to encode dead letter", err, "entry_id", msg.ID)
		return
	}

	// 写入死信与确认放在同一个 pipeline 中
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: StreamBatchJob.DLQStream(),
			Values: map[string]interface{}{"data": string(record)},
		})
		pipe.XAck(ctx, string(StreamBatchJob), string(c.cfg.Group), msg.ID)
		return nil
	})
	if err != nil {
		logger.Error(ctx, "failed to move batch message to dead letter stream", err, "entry_id", msg.ID)
		return
	}

	metrics.StreamDeliveries.WithLabelValues(string(StreamBatchJob), "dead_letter").Inc()
	logger.Warn(ctx, "batch message moved to dead letter stream",
		"entry_id", msg.ID,
		"attempts", attempts,
		"error", cause.Error())
}
