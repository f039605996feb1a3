// Package messaging 通过 Redis Stream 将批处理任务派发给 job-worker
package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stream 流定义
type Stream string

const (
	StreamBatchJob Stream = "stream:batch:job"
)

// DLQStream 获取对应的死信队列流名称
func (s Stream) DLQStream() string {
	return "dlq:" + string(s)
}

// ConsumerGroup 消费者组定义
type ConsumerGroup string

const (
	ConsumerGroupBatchWorker ConsumerGroup = "cg-batch-worker"
)

// MessageTypeBatchJob 批处理任务消息类型
const MessageTypeBatchJob = "batch_job"

// Envelope 流中每条记录 data 字段的内容
type Envelope struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	UserID    string            `json:"user_id"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// BatchJobMessage 批处理任务消息
type BatchJobMessage struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
}

func newBatchJobEnvelope(msg BatchJobMessage) (*Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch job message: %w", err)
	}
	return &Envelope{
		ID:        msg.JobID,
		Type:      MessageTypeBatchJob,
		UserID:    msg.UserID,
		Payload:   payload,
		Metadata:  map[string]string{},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// decodeEnvelope 解析流记录，缺少 data 字段或类型不符时返回错误
func decodeEnvelope(values map[string]interface{}) (*Envelope, *BatchJobMessage, error) {
	raw, ok := values["data"].(string)
	if !ok {
		return nil, nil, fmt.Errorf("stream entry has no data field")
	}
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type != MessageTypeBatchJob {
		return &env, nil, fmt.Errorf("unexpected message type %q", env.Type)
	}
	var msg BatchJobMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return &env, nil, fmt.Errorf("failed to decode batch job payload: %w", err)
	}
	if msg.JobID == "" {
		return &env, nil, fmt.Errorf("batch job message has no job id")
	}
	return &env, &msg, nil
}

// DeadLetter 死信记录
type DeadLetter struct {
	OriginalStream string    `json:"original_stream"`
	EntryID        string    `json:"entry_id"`
	Data           string    `json:"data"`
	Error          string    `json:"error"`
	Attempts       int       `json:"attempts"`
	FailedAt       time.Time `json:"failed_at"`
}

// BackoffConfig 重试退避配置
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoffConfig 默认退避配置
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2,
	}
}

// Delay 第 attempt 次投递失败后再次投递前的等待时间
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if c.Initial <= 0 {
		c = DefaultBackoffConfig()
	}
	delay := c.Initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.Multiplier)
		if c.Max > 0 && delay >= c.Max {
			return c.Max
		}
	}
	return delay
}
