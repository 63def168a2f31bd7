package eino

import (
	"context"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deck-assistant-api/internal/domain/service"
)

type memRecorder struct {
	mu     sync.Mutex
	inputs []service.LLMUsageInput
}

func (r *memRecorder) Record(ctx context.Context, in service.LLMUsageInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return nil
}

func TestChatModelHandler_RecordsUsage(t *testing.T) {
	rec := &memRecorder{}
	h := newChatModelCallbackHandler(rec)

	ctx := service.WithSubject(context.Background(), "user:u1")
	ctx = service.WithWorkflowProvider(ctx, "chat", "openai")

	ctx = h.OnStart(ctx, nil, &model.CallbackInput{Config: &model.Config{Model: "gpt-4o-mini"}})
	h.OnEnd(ctx, nil, &model.CallbackOutput{
		Message:    schema.AssistantMessage("ok", nil),
		TokenUsage: &model.TokenUsage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
	})

	require.Len(t, rec.inputs, 1)
	in := rec.inputs[0]
	assert.Equal(t, "user:u1", in.SubjectKey)
	assert.Equal(t, "chat", in.Workflow)
	assert.Equal(t, "openai", in.Provider)
	assert.Equal(t, "gpt-4o-mini", in.Model)
	assert.Equal(t, 12, in.PromptTokens)
	assert.Equal(t, 8, in.CompletionTokens)
}

func TestChatModelHandler_NoUsageNoRecord(t *testing.T) {
	rec := &memRecorder{}
	h := newChatModelCallbackHandler(rec)

	ctx := h.OnStart(context.Background(), nil, nil)
	h.OnEnd(ctx, nil, &model.CallbackOutput{})
	assert.Empty(t, rec.inputs)
}

func TestElapsedSeconds_WithoutStart(t *testing.T) {
	assert.Zero(t, elapsedSeconds(context.Background()))
}
