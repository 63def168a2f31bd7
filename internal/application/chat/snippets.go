package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
)

// Embedder 文本向量化
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SnippetRetriever 检索与问题相关的历史片段
type SnippetRetriever interface {
	Retrieve(ctx context.Context, threadID, query string) ([]string, error)
}

// SnippetIndex 基于向量库的线程片段索引
type SnippetIndex struct {
	embedder Embedder
	store    repository.SnippetStore
	topK     int
}

var _ SnippetRetriever = (*SnippetIndex)(nil)

func NewSnippetIndex(embedder Embedder, store repository.SnippetStore, topK int) *SnippetIndex {
	if topK <= 0 {
		topK = 4
	}
	return &SnippetIndex{embedder: embedder, store: store, topK: topK}
}

// Retrieve 返回片段正文，按相似度降序
func (s *SnippetIndex) Retrieve(ctx context.Context, threadID, query string) ([]string, error) {
	if s == nil || threadID == "" || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	hits, err := s.store.Search(ctx, threadID, vecs[0], s.topK)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if t := strings.TrimSpace(h.Text); t != "" {
			out = append(out, t)
		}
	}
	return out, nil
}

// Index 写入一轮问答
func (s *SnippetIndex) Index(ctx context.Context, threadID string, turns map[entity.Role]string) error {
	if s == nil || threadID == "" {
		return nil
	}
	roles := []entity.Role{entity.RoleUser, entity.RoleAssistant}
	snippets := make([]*repository.Snippet, 0, len(roles))
	texts := make([]string, 0, len(roles))
	now := time.Now().Unix()
	for _, role := range roles {
		text := strings.TrimSpace(turns[role])
		if text == "" {
			continue
		}
		snippets = append(snippets, &repository.Snippet{
			ID:        uuid.NewString(),
			ThreadID:  threadID,
			Role:      string(role),
			Text:      text,
			CreatedAt: now,
		})
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed snippets: %w", err)
	}
	return s.store.Insert(ctx, snippets, vecs)
}
