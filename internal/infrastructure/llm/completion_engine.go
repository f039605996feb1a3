package llm

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"agent-credit-api/internal/domain/service"
	apperrors "agent-credit-api/pkg/errors"
)

// ModelProvider 按提供商名称获取 ChatModel
type ModelProvider interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
	Resolve(name string) string
}

// CompletionEngine 基于 Eino ChatModel 的补全引擎
type CompletionEngine struct {
	models ModelProvider
}

// NewCompletionEngine 创建补全引擎
func NewCompletionEngine(models ModelProvider) *CompletionEngine {
	return &CompletionEngine{models: models}
}

var _ service.CompletionEngine = (*CompletionEngine)(nil)

// Complete 执行一次补全并返回提供方上报的 Token 用量
func (e *CompletionEngine) Complete(ctx context.Context, messages []service.ChatMessage, modelName string) (*service.CompletionResult, error) {
	requested := service.ProviderFromContext(ctx)
	if requested == "unknown" {
		requested = ""
	}
	provider := e.models.Resolve(requested)
	ctx = service.WithProvider(ctx, provider)

	chatModel, err := e.models.Get(ctx, provider)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLLMProviderError, "LLM provider unavailable")
	}

	ctx = einocb.InitCallbacks(ctx, &einocb.RunInfo{
		Name:      service.CallerFromContext(ctx),
		Type:      provider,
		Component: components.ComponentOfChatModel,
	})

	var opts []model.Option
	if modelName != "" {
		opts = append(opts, model.WithModel(modelName))
	}

	out, err := chatModel.Generate(ctx, toSchemaMessages(messages), opts...)
	if err != nil {
		return nil, apperrors.ErrLLMCallFailed.WithError(err)
	}

	result := &service.CompletionResult{
		Content: out.Content,
		Model:   modelName,
	}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		result.Usage = service.TokenUsage{
			PromptTokens:     out.ResponseMeta.Usage.PromptTokens,
			CompletionTokens: out.ResponseMeta.Usage.CompletionTokens,
			TotalTokens:      out.ResponseMeta.Usage.TotalTokens,
		}
	}
	result.Usage = result.Usage.Normalize()
	return result, nil
}

func toSchemaMessages(messages []service.ChatMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case service.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case service.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}
