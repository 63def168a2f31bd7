package milvus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/repository"
)

func TestThreadFilter(t *testing.T) {
	assert.Equal(t, `thread_id == "abc"`, threadFilter("abc"))
	assert.Equal(t, `thread_id == "a\"b"`, threadFilter(`a"b`))
}

func TestThreadSnippetsSchema(t *testing.T) {
	s := ThreadSnippetsSchema(768)
	assert.Equal(t, CollectionThreadSnippets, s.CollectionName)
	for _, f := range s.Fields {
		if f.Name == "vector" {
			assert.Equal(t, "768", f.TypeParams["dim"])
		}
	}
}

func TestCollectionName(t *testing.T) {
	c := &Client{config: &config.MilvusConfig{CollectionPrefix: "deck"}}
	assert.Equal(t, "deck_thread_snippets", c.CollectionName(CollectionThreadSnippets))
	c = &Client{config: &config.MilvusConfig{}}
	assert.Equal(t, "thread_snippets", c.CollectionName(CollectionThreadSnippets))
}

func TestSnippetRepository_NotConfigured(t *testing.T) {
	var r *SnippetRepository
	ctx := context.Background()
	assert.Error(t, r.Insert(ctx, []*repository.Snippet{{ID: "1"}}, [][]float32{{1}}))
	_, err := r.Search(ctx, "t", []float32{1}, 3)
	assert.Error(t, err)
	assert.Error(t, r.DeleteByThread(ctx, "t"))
}
