// Package main 批处理任务执行器入口（job-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"agent-credit-api/internal/config"
	"agent-credit-api/internal/infrastructure/eino/callback"
	"agent-credit-api/internal/infrastructure/messaging"
	"agent-credit-api/internal/wire"
	"agent-credit-api/pkg/logger"
	"agent-credit-api/pkg/tracer"
)

// Version 版本信息，构建时注入
var Version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName:    "job-worker",
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SampleRate:     cfg.Observability.Tracing.SampleRate,
		Enabled:        cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	callback.Init()

	worker, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	streamCfg := cfg.Messaging.RedisStream
	// 非 pending 状态的任务 Process 直接返回 nil，重复投递不会重复扣费
	consumer := messaging.NewConsumer(worker.RedisClient.Redis(), worker.Orchestrator, messaging.ConsumerConfig{
		Group:            messaging.ConsumerGroupBatchWorker,
		ConsumerName:     hostnameConsumerName(),
		BlockTimeout:     streamCfg.BlockTimeout,
		ClaimInterval:    streamCfg.ClaimInterval,
		ReclaimIdle:      streamCfg.ReclaimIdle,
		RetryLimit:       streamCfg.RetryLimit,
		DLQWarnThreshold: streamCfg.DLQWarnThreshold,
		Backoff: messaging.BackoffConfig{
			Initial:    streamCfg.RetryBackoff.Initial,
			Max:        streamCfg.RetryBackoff.Max,
			Multiplier: streamCfg.RetryBackoff.Multiplier,
		},
	})

	go func() {
		if err := consumer.Run(ctx); err != nil {
			logger.Error(ctx, "batch consumer stopped", err)
			cancel()
		}
	}()
	go reapLoop(ctx, worker, cfg.Batch)

	log := logger.FromContext(ctx)
	log.Info("job-worker started", "stream", string(messaging.StreamBatchJob))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("job-worker shutting down")
	cancel()
	consumer.Stop()
}

// reapLoop 将长时间未推进的 processing 任务标记为失败并释放预授权
func reapLoop(ctx context.Context, worker *wire.Worker, cfg config.BatchConfig) {
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	interval := cfg.ReapInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := worker.Orchestrator.ReapStaleJobs(ctx, staleAfter)
			if err != nil {
				logger.Error(ctx, "failed to reap stale batch jobs", err)
				continue
			}
			if n > 0 {
				logger.Info(ctx, "reaped stale batch jobs", "count", n)
			}
		}
	}
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
