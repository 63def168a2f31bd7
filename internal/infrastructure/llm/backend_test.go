package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/service"
)

type scriptedModel struct {
	mu     sync.Mutex
	steps  []func(modelName string) (*schema.Message, error)
	models []string
}

func (m *scriptedModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	o := model.GetCommonOptions(&model.Options{}, opts...)
	name := ""
	if o.Model != nil {
		name = *o.Model
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = append(m.models, name)
	if len(m.steps) == 0 {
		return nil, errors.New("no scripted response")
	}
	step := m.steps[0]
	m.steps = m.steps[1:]
	return step(name)
}

func (m *scriptedModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (m *scriptedModel) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.models...)
}

type staticFactory struct {
	model model.BaseChatModel
}

func (f staticFactory) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	return f.model, nil
}

func reply(text string) func(string) (*schema.Message, error) {
	return func(string) (*schema.Message, error) {
		msg := schema.AssistantMessage(text, nil)
		msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
		return msg, nil
	}
}

func fail(err error) func(string) (*schema.Message, error) {
	return func(string) (*schema.Message, error) { return nil, err }
}

func newTestBackend(m *scriptedModel, attempts uint) *Backend {
	return NewBackend(staticFactory{model: m}, nil, config.RetryConfig{
		MaxAttempts: attempts,
		Initial:     time.Millisecond,
		Max:         2 * time.Millisecond,
		Multiplier:  1.5,
	})
}

var testMessages = []service.Message{
	{Role: entity.RoleSystem, Content: "you are a deck assistant"},
	{Role: entity.RoleUser, Content: "what should I cut?"},
}

func TestBackend_Success(t *testing.T) {
	m := &scriptedModel{steps: []func(string) (*schema.Message, error){reply("  cut Divination  ")}}
	b := newTestBackend(m, 2)

	res := b.Complete(context.Background(), testMessages, service.ModelSpec{Model: "gpt-4o-mini", Kind: service.CallChat, MaxTokens: 128})
	ok, isOK := res.(service.Success)
	require.True(t, isOK, "got %T", res)
	assert.Equal(t, "cut Divination", ok.Text)
	assert.Equal(t, "gpt-4o-mini", ok.Model)
	assert.Equal(t, 15, ok.Usage.TotalTokens)
	assert.False(t, ok.FallbackUsed)
	assert.Equal(t, []string{"gpt-4o-mini"}, m.calls())
}

func TestBackend_RetriesServerErrors(t *testing.T) {
	m := &scriptedModel{steps: []func(string) (*schema.Message, error){
		fail(&StatusError{Code: 502, Message: "bad gateway"}),
		reply("ok"),
	}}
	b := newTestBackend(m, 2)

	res := b.Complete(context.Background(), testMessages, service.ModelSpec{Model: "gpt-4o-mini", Kind: service.CallChat})
	_, isOK := res.(service.Success)
	assert.True(t, isOK, "got %T", res)
	assert.Len(t, m.calls(), 2)
}

func TestBackend_RateLimitIsNotRetried(t *testing.T) {
	m := &scriptedModel{steps: []func(string) (*schema.Message, error){
		fail(&StatusError{Code: 429, Message: "slow down"}),
		reply("never reached"),
	}}
	b := newTestBackend(m, 3)

	res := b.Complete(context.Background(), testMessages, service.ModelSpec{Model: "gpt-4o-mini", Kind: service.CallChat})
	assert.Equal(t, service.Degraded{Reason: service.DegradedRateLimited}, res)
	assert.Len(t, m.calls(), 1)
}

func TestBackend_ClientErrorFailsImmediately(t *testing.T) {
	m := &scriptedModel{steps: []func(string) (*schema.Message, error){
		fail(&StatusError{Code: 400, Message: "bad request"}),
	}}
	b := newTestBackend(m, 3)

	res := b.Complete(context.Background(), testMessages, service.ModelSpec{Model: "gpt-4o-mini", Kind: service.CallChat})
	f, isFailure := res.(service.Failure)
	require.True(t, isFailure, "got %T", res)
	assert.Error(t, f.Err)
	assert.Len(t, m.calls(), 1)
}

func TestBackend_ExhaustedRetriesFail(t *testing.T) {
	m := &scriptedModel{steps: []func(string) (*schema.Message, error){
		fail(&StatusError{Code: 503, Message: "down"}),
		fail(&StatusError{Code: 503, Message: "down"}),
		fail(&StatusError{Code: 503, Message: "down"}),
	}}
	b := newTestBackend(m, 2)

	res := b.Complete(context.Background(), testMessages, service.ModelSpec{Model: "gpt-4o-mini", Kind: service.CallChat})
	_, isFailure := res.(service.Failure)
	assert.True(t, isFailure, "got %T", res)
	assert.Len(t, m.calls(), 2)
}

func TestBackend_CapabilityFallback(t *testing.T) {
	m := &scriptedModel{steps: []func(string) (*schema.Message, error){
		fail(&StatusError{Code: 400, Message: "unsupported parameter: max_tokens"}),
		reply("fallback answer"),
	}}
	b := newTestBackend(m, 2)

	res := b.Complete(context.Background(), testMessages, service.ModelSpec{
		Model:         "o4-mini",
		FallbackModel: "gpt-4o",
		Kind:          service.CallChat,
	})
	ok, isOK := res.(service.Success)
	require.True(t, isOK, "got %T", res)
	assert.True(t, ok.FallbackUsed)
	assert.Equal(t, "gpt-4o", ok.Model)
	assert.Equal(t, []string{"o4-mini", "gpt-4o"}, m.calls())
}

func TestBackend_EmptyResponseDegrades(t *testing.T) {
	m := &scriptedModel{steps: []func(string) (*schema.Message, error){reply("   ")}}
	b := newTestBackend(m, 1)

	res := b.Complete(context.Background(), testMessages, service.ModelSpec{Model: "gpt-4o-mini", Kind: service.CallReview})
	assert.Equal(t, service.Degraded{Reason: service.DegradedEmptyResponse}, res)
}

func TestBackend_NoMessages(t *testing.T) {
	b := newTestBackend(&scriptedModel{}, 1)
	res := b.Complete(context.Background(), nil, service.ModelSpec{Model: "gpt-4o-mini"})
	_, isFailure := res.(service.Failure)
	assert.True(t, isFailure)
}
