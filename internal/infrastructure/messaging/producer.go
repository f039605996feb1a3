package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"agent-credit-api/pkg/logger"
	apptracer "agent-credit-api/pkg/tracer"
)

var tracer = otel.Tracer("messaging")

const defaultMaxLen = 100000

// Producer 批处理任务派发器
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建派发器，maxLen 为流的近似长度上限
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Producer{client: client, maxLen: maxLen}
}

// Dispatch 将批处理任务写入 stream:batch:job，由 job-worker 异步执行
func (p *Producer) Dispatch(ctx context.Context, jobID, userID string) error {
	ctx, span := tracer.Start(ctx, "messaging.Producer.Dispatch",
		trace.WithAttributes(
			attribute.String("stream", string(StreamBatchJob)),
			attribute.String("batch.job_id", jobID),
		))
	defer span.End()

	env, err := newBatchJobEnvelope(BatchJobMessage{JobID: jobID, UserID: userID})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok && reqID != "" {
		env.Metadata["request_id"] = reqID
	}
	apptracer.Inject(ctx, env.Metadata)

	data, err := json.Marshal(env)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	entryID, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(StreamBatchJob),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish batch job %s: %w", jobID, err)
	}

	span.SetAttributes(attribute.String("stream.entry_id", entryID))
	return nil
}
