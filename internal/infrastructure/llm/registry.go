package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"agent-credit-api/internal/config"
)

// ChatModelBuilder 根据提供商配置创建 ChatModel
type ChatModelBuilder func(ctx context.Context, p config.ProviderConfig) (model.BaseChatModel, error)

// ChatModelRegistry 按提供商名称惰性创建并复用 ChatModel
type ChatModelRegistry struct {
	defaultProvider string
	providers       map[string]config.ProviderConfig
	build           ChatModelBuilder

	mu     sync.Mutex
	models map[string]model.BaseChatModel
}

// NewChatModelRegistry 创建注册表，所有提供商均走 OpenAI 兼容协议
func NewChatModelRegistry(cfg *config.Config) *ChatModelRegistry {
	return NewChatModelRegistryWithBuilder(cfg.LLM, newOpenAIChatModel)
}

// NewChatModelRegistryWithBuilder 使用自定义构造函数创建注册表
func NewChatModelRegistryWithBuilder(cfg config.LLMConfig, build ChatModelBuilder) *ChatModelRegistry {
	return &ChatModelRegistry{
		defaultProvider: cfg.DefaultProvider,
		providers:       cfg.Providers,
		build:           build,
		models:          make(map[string]model.BaseChatModel),
	}
}

// Resolve 空名称解析为默认提供商
func (r *ChatModelRegistry) Resolve(name string) string {
	if name == "" {
		return r.defaultProvider
	}
	return name
}

// Get 获取提供商对应的 ChatModel，首次访问时创建
func (r *ChatModelRegistry) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	name = r.Resolve(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[name]; ok {
		return m, nil
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("llm provider %q is not configured", name)
	}
	m, err := r.build(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model for %s: %w", name, err)
	}
	r.models[name] = m
	return m, nil
}

func newOpenAIChatModel(ctx context.Context, p config.ProviderConfig) (model.BaseChatModel, error) {
	mc := &openai.ChatModelConfig{
		APIKey:  p.APIKey,
		BaseURL: p.BaseURL,
		Model:   p.Model,
		Timeout: p.Timeout,
	}
	if p.MaxTokens > 0 {
		maxTokens := p.MaxTokens
		mc.MaxTokens = &maxTokens
	}
	temperature := float32(p.Temperature)
	mc.Temperature = &temperature
	return openai.NewChatModel(ctx, mc)
}
