package service

import (
	"context"

	"deck-assistant-api/internal/domain/entity"
)

// CallKind 调用类型，模型选择时据此做能力检查
type CallKind string

const (
	CallChat        CallKind = "chat"
	CallReview      CallKind = "review"
	CallResearch    CallKind = "research"
	CallSummary     CallKind = "summary"
	CallLongContext CallKind = "long_context"
)

// Message 发送给后端的一条消息
type Message struct {
	Role    entity.Role
	Content string
}

// ModelSpec 单次调用的模型规格
type ModelSpec struct {
	Provider      string
	Model         string
	FallbackModel string
	MaxTokens     int
	Temperature   float64
	Kind          CallKind
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result 后端调用结果，只有 Success / Degraded / Failure 三种
type Result interface {
	isResult()
}

// Success 成功返回文本
type Success struct {
	Text  string
	Usage Usage
	Model string
	// FallbackUsed 后端在调用过程中切换到了 FallbackModel
	FallbackUsed bool
}

// Degraded 后端可达但无法给出可用答案，例如 429 或空响应
type Degraded struct {
	Reason string
}

// Failure 重试后仍失败
type Failure struct {
	Err error
}

func (Success) isResult()  {}
func (Degraded) isResult() {}
func (Failure) isResult()  {}

// 降级原因
const (
	DegradedRateLimited   = "rate_limited"
	DegradedEmptyResponse = "empty_response"
	DegradedBudget        = "token_budget"
)

// LLMBackend LLM 后端
type LLMBackend interface {
	Complete(ctx context.Context, messages []Message, spec ModelSpec) Result
}

// LLMBackendFunc 函数适配器
type LLMBackendFunc func(ctx context.Context, messages []Message, spec ModelSpec) Result

func (f LLMBackendFunc) Complete(ctx context.Context, messages []Message, spec ModelSpec) Result {
	return f(ctx, messages, spec)
}
