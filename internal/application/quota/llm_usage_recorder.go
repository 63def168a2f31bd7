package quota

import (
	"context"
	"fmt"
	"strings"

	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
	"deck-assistant-api/internal/domain/service"
)

// LLMUsageRecorder 将 LLM 用量写入流水表，供 token 预算统计
type LLMUsageRecorder struct {
	usageRepo repository.LLMUsageEventRepository
}

var _ service.LLMUsageRecorder = (*LLMUsageRecorder)(nil)

func NewLLMUsageRecorder(usageRepo repository.LLMUsageEventRepository) *LLMUsageRecorder {
	return &LLMUsageRecorder{usageRepo: usageRepo}
}

func (r *LLMUsageRecorder) Record(ctx context.Context, in service.LLMUsageInput) error {
	if r == nil || r.usageRepo == nil {
		return nil
	}

	subject := strings.TrimSpace(in.SubjectKey)
	if subject == "" {
		return nil
	}
	if in.PromptTokens < 0 || in.CompletionTokens < 0 {
		return fmt.Errorf("invalid token usage")
	}

	evt := &entity.LLMUsageEvent{
		SubjectKey:       subject,
		Provider:         strings.TrimSpace(in.Provider),
		Model:            strings.TrimSpace(in.Model),
		Workflow:         strings.TrimSpace(in.Workflow),
		TokensPrompt:     in.PromptTokens,
		TokensCompletion: in.CompletionTokens,
		DurationMs:       in.DurationMs,
	}
	return r.usageRepo.Create(ctx, evt)
}
