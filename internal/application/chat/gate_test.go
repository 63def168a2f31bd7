package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideGate(t *testing.T) {
	kb, err := ParseKnowledgeBase(embeddedKnowledge)
	require.NoError(t, err)

	cases := []struct {
		name    string
		in      gateInput
		mode    GateMode
		reason  string
		ceiling int
	}{
		{"analysis without deck", gateInput{message: "analyze my deck"}, GateStatic, "needs_deck_no_context", 0},
		{"improve without deck", gateInput{message: "improve this deck"}, GateStatic, "needs_deck_no_context", 0},
		{"swaps without deck", gateInput{message: "suggest swaps"}, GateStatic, "needs_deck_no_context", 0},
		{"faq", gateInput{message: "What does ADD mean?"}, GateStatic, "static_faq_match", 0},
		{"off topic", gateInput{message: "Tell me a joke about penguins"}, GateStatic, "off_topic", 0},
		{"short greeting", gateInput{message: "hi"}, GateMini, "simple_one_liner_no_deck", miniCeilingNormal},
		{"keyword", gateInput{message: "what is ward?"}, GateMini, "simple_rules_or_term", miniCeilingTight},
		{"keyword effect", gateInput{message: "what does trample do?"}, GateMini, "simple_rules_or_term", miniCeilingTight},
		{"commander tax", gateInput{message: "commander tax?"}, GateMini, "simple_rules_or_term", miniCeilingTight},
		{"one liner", gateInput{message: "what's the best commander for zombies?"}, GateMini, "simple_one_liner_no_deck", miniCeilingNormal},
		{"near cap", gateInput{message: "what is first strike?", nearBudgetCap: true}, GateMini, "simple_rules_or_term", miniCeilingTight},
		{"near cap with deck", gateInput{message: "Any ramp ideas?", hasDeck: true, nearBudgetCap: true}, GateMini, "near_budget_cap", miniCeilingNormal},
		{"analysis with deck", gateInput{message: "analyze my deck", hasDeck: true}, GateFull, "deck_context_complex_or_long", 0},
		{"suggest with deck", gateInput{message: "suggest improvements", hasDeck: true}, GateFull, "deck_context_complex_or_long", 0},
		{"synergy with deck", gateInput{message: "how does synergy work in this list?", hasDeck: true}, GateFull, "deck_context_complex_or_long", 0},
		{"wrong with deck near cap", gateInput{message: "what's wrong with my deck?", hasDeck: true, nearBudgetCap: true}, GateFull, "deck_context_complex_or_long", 0},
		{"long question", gateInput{message: "Explain in detail the history of Magic the Gathering and its impact on card games worldwide."}, GateFull, "default", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := decideGate(kb, tc.in)
			assert.Equal(t, tc.mode, d.Mode)
			assert.Equal(t, tc.reason, d.Reason)
			assert.Equal(t, tc.ceiling, d.MaxTokens)
			if d.Mode == GateStatic {
				assert.NotEmpty(t, d.Text)
				assert.NotEmpty(t, d.Handler)
			}
		})
	}
}

func TestGatePredicates(t *testing.T) {
	assert.True(t, isDeckAnalysisRequest("improve this list"))
	assert.False(t, isDeckAnalysisRequest("what is trample"))
	assert.True(t, isSimpleRulesOrTerm("what is the command zone"))
	assert.False(t, isSimpleRulesOrTerm("analyze my deck"))

	kb, err := ParseKnowledgeBase(embeddedKnowledge)
	require.NoError(t, err)
	assert.False(t, isOffTopic(kb, "thanks!"), "short messages are never off topic")
	assert.False(t, isOffTopic(kb, "Do I get a free mulligan?"))
	assert.True(t, isOffTopic(kb, "Recommend a good pizza place nearby"))
}

func TestGateMode_String(t *testing.T) {
	assert.Equal(t, "mini_only", GateMini.String())
	assert.Equal(t, "no_llm", GateStatic.String())
	assert.Equal(t, "gate(9)", GateMode(9).String())
}
