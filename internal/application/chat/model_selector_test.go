package chat

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/service"
	"deck-assistant-api/pkg/metrics"
)

func selectorConfig() *config.LLMConfig {
	return &config.LLMConfig{
		DefaultProvider: "openai",
		Models: map[string]config.ModelConfig{
			"gpt-4o-mini": {Provider: "openai", Capabilities: []string{"chat", "review", "research", "summary"}},
			"gpt-4o":      {Provider: "openai", Capabilities: []string{"chat", "review", "research", "summary", "long_context"}, Fallback: "gpt-4o-mini"},
			"o4-mini":     {Provider: "reasoning", Capabilities: []string{"chat", "long_context"}, Fallback: "gpt-4o"},
		},
		Tiers: map[string]config.TierModelConfig{
			"pro": {Model: "o4-mini", FallbackModel: "gpt-4o-mini"},
		},
	}
}

func TestModelSelector_TierModel(t *testing.T) {
	s := NewModelSelector(selectorConfig())

	sel := s.Select(context.Background(), entity.TierPro, service.CallChat)
	assert.Equal(t, "o4-mini", sel.Model)
	assert.Equal(t, "reasoning", sel.Provider)
	assert.Equal(t, "gpt-4o", sel.FallbackModel)
	assert.False(t, sel.Substituted)
	assert.Equal(t, 512, sel.TierCap, "missing cap keeps the built-in default")

	sel = s.Select(context.Background(), entity.TierGuest, service.CallChat)
	assert.Equal(t, "gpt-4o-mini", sel.Model)
	assert.Equal(t, 256, sel.TierCap)
	assert.Empty(t, sel.FallbackModel)
}

func TestModelSelector_SubstitutesMissingCapability(t *testing.T) {
	s := NewModelSelector(selectorConfig())
	counter := metrics.ChatModelSubstitutions.WithLabelValues("o4-mini", "gpt-4o", "review")
	before := testutil.ToFloat64(counter)

	sel := s.Select(context.Background(), entity.TierPro, service.CallReview)
	assert.True(t, sel.Substituted)
	assert.Equal(t, "o4-mini", sel.Requested)
	assert.Equal(t, "gpt-4o", sel.Model)
	assert.Equal(t, "gpt-4o-mini", sel.FallbackModel)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestModelSelector_UndeclaredModelSupportsEverything(t *testing.T) {
	s := NewModelSelector(&config.LLMConfig{DefaultProvider: "openai"})
	assert.True(t, s.Supports("custom-model", CapLongContext))
	assert.Equal(t, "openai", s.ProviderFor("custom-model"))
	assert.Equal(t, 384, s.TierCap(entity.TierFree))
}

func TestMaxTokensFor(t *testing.T) {
	tests := []struct {
		name    string
		message string
		cards   int
		cap     int
		want    int
	}{
		{"simple", "Any ramp ideas?", 0, 384, 192},
		{"simple with deck", "Any ramp ideas?", 40, 512, 256},
		{"complex with large deck", "Why is this card bad here?", 100, 512, 448},
		{"clamped by tier", "Why is this card bad here?", 100, 384, 384},
		{"long answer takes cap", "Please review my deck", 0, 256, 256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maxTokensFor(tt.message, tt.cards, tt.cap))
		})
	}
}
