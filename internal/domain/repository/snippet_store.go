package repository

import "context"

// Snippet 线程内可检索的历史片段
type Snippet struct {
	ID        string
	ThreadID  string
	Role      string
	Text      string
	CreatedAt int64
	Score     float32
}

// SnippetStore 片段向量存储
type SnippetStore interface {
	// Insert 写入片段，vectors 与 snippets 一一对应
	Insert(ctx context.Context, snippets []*Snippet, vectors [][]float32) error
	// Search 在单个线程内做相似度检索
	Search(ctx context.Context, threadID string, vector []float32, topK int) ([]*Snippet, error)
	// DeleteByThread 删除线程的全部片段
	DeleteByThread(ctx context.Context, threadID string) error
}
