package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnowledgeBase_Embedded(t *testing.T) {
	kb, err := LoadKnowledgeBase("")
	require.NoError(t, err)
	assert.Greater(t, kb.Len(), 5)

	note, ok := kb.Lookup("commander_tax")
	require.True(t, ok)
	assert.Contains(t, note, "additional {2}")
}

func TestKnowledgeBase_MatchPrefersLongestKeyword(t *testing.T) {
	kb, err := ParseKnowledgeBase(embeddedKnowledge)
	require.NoError(t, err)

	topic, ok := kb.Match("How much commander damage kills a player?")
	require.True(t, ok)
	assert.Equal(t, "commander_damage", topic)

	topic, ok = kb.Match("Does trample work with deathtouch blockers?")
	require.True(t, ok)
	assert.Equal(t, "deathtouch", topic)

	_, ok = kb.Match("Stackable counters?")
	assert.False(t, ok, "keywords match whole words only")
}

func TestKnowledgeBase_SkipsIncompleteTopics(t *testing.T) {
	kb, err := ParseKnowledgeBase([]byte("topics:\n  - topic: a\n    keywords: [x]\n  - topic: b\n    keywords: [y]\n    note: hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, kb.Len())
	_, ok := kb.Lookup("a")
	assert.False(t, ok)
}

func TestKnowledgeBase_FAQ(t *testing.T) {
	kb, err := ParseKnowledgeBase(embeddedKnowledge)
	require.NoError(t, err)

	answer, ok := kb.FAQ("How do I link a deck to chat?")
	require.True(t, ok)
	assert.Contains(t, answer, "saved decks")

	_, ok = kb.FAQ("random question")
	assert.False(t, ok)

	kb, err = ParseKnowledgeBase([]byte("faq:\n  - id: a\n    phrases: [x]\n  - id: b\n    phrases: [Hello There]\n    answer: hi\n"))
	require.NoError(t, err)
	_, ok = kb.FAQ("x")
	assert.False(t, ok, "entries without an answer are skipped")
	answer, ok = kb.FAQ("well hello there!")
	require.True(t, ok)
	assert.Equal(t, "hi", answer)
}

func TestKnowledgeBase_MissingFile(t *testing.T) {
	_, err := LoadKnowledgeBase("/nonexistent/rules.yaml")
	assert.Error(t, err)
}

func TestNeedsResearch(t *testing.T) {
	assert.True(t, needsResearch("How does the stack work?"))
	assert.True(t, needsResearch("Can I respond to a cascade trigger?"))
	assert.False(t, needsResearch("Any ramp ideas for this deck?"))
	assert.False(t, needsResearch(""))
	assert.False(t, needsResearch("How does the stack work? "+strings.Repeat("more words ", 20)))
}
