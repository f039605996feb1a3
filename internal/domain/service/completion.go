package service

import "context"

// ChatRole 消息角色
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage 补全请求中的一条消息
type ChatMessage struct {
	Role    ChatRole
	Content string
}

// TokenUsage 一次补全调用的 Token 消耗
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Normalize 提供方未返回总数时以 prompt + completion 补齐
func (u TokenUsage) Normalize() TokenUsage {
	if u.TotalTokens <= 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// CompletionResult 补全结果
type CompletionResult struct {
	Content string
	Model   string
	Usage   TokenUsage
}

// CompletionEngine 补全引擎端口，由基础设施层的 LLM 适配器实现
type CompletionEngine interface {
	Complete(ctx context.Context, messages []ChatMessage, model string) (*CompletionResult, error)
}
