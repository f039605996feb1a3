package service

import (
	"context"
	"strings"
)

type llmCtxKey string

const (
	llmCtxKeyCaller   llmCtxKey = "llm_caller"
	llmCtxKeyProvider llmCtxKey = "llm_provider"
)

// WithCaller 标记补全调用的发起方（如 batch），用于指标标签
func WithCaller(ctx context.Context, caller string) context.Context {
	if ctx == nil {
		return nil
	}
	c := strings.TrimSpace(caller)
	if c == "" {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyCaller, c)
}

// WithProvider 指定补全调用使用的提供商
func WithProvider(ctx context.Context, provider string) context.Context {
	if ctx == nil {
		return nil
	}
	p := strings.TrimSpace(provider)
	if p == "" {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyProvider, p)
}

func CallerFromContext(ctx context.Context) string {
	return stringFromContext(ctx, llmCtxKeyCaller)
}

func ProviderFromContext(ctx context.Context) string {
	return stringFromContext(ctx, llmCtxKeyProvider)
}

func stringFromContext(ctx context.Context, key llmCtxKey) string {
	if ctx == nil {
		return "unknown"
	}
	s, ok := ctx.Value(key).(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return strings.TrimSpace(s)
}
