package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"deck-assistant-api/internal/domain/repository"
	"deck-assistant-api/pkg/metrics"
)

// SnippetRepository 对话片段向量仓储
type SnippetRepository struct {
	client *Client
	dim    int
}

var _ repository.SnippetStore = (*SnippetRepository)(nil)

// NewSnippetRepository 创建对话片段仓储
func NewSnippetRepository(client *Client, dim int) *SnippetRepository {
	return &SnippetRepository{client: client, dim: dim}
}

func (r *SnippetRepository) ready() error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	return nil
}

// EnsureCollection 确保集合与索引可用（不存在则创建），不做破坏性操作
func (r *SnippetRepository) EnsureCollection(ctx context.Context) error {
	if err := r.ready(); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "milvus.EnsureCollection",
		trace.WithAttributes(attribute.String("collection", CollectionThreadSnippets)))
	defer span.End()

	exists, err := r.client.HasCollection(ctx, CollectionThreadSnippets)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !exists {
		schema := ThreadSnippetsSchema(r.dim)
		collName := r.client.CollectionName(schema.CollectionName)
		schema.CollectionName = collName

		if err := r.client.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create collection: %w", err)
		}
		if err := r.createIndex(ctx, collName); err != nil {
			span.RecordError(err)
			return err
		}
	}

	return r.client.LoadCollection(ctx, CollectionThreadSnippets)
}

// createIndex 创建 HNSW 索引
func (r *SnippetRepository) createIndex(ctx context.Context, collName string) error {
	idx, err := entity.NewIndexHNSW(
		entity.COSINE,
		r.client.config.HNSWM,
		r.client.config.HNSWEfConstruction,
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := r.client.milvus.CreateIndex(ctx, collName, "vector", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Insert 写入片段
func (r *SnippetRepository) Insert(ctx context.Context, snippets []*repository.Snippet, vectors [][]float32) error {
	if err := r.ready(); err != nil {
		return err
	}
	if len(snippets) == 0 {
		return nil
	}
	if len(snippets) != len(vectors) {
		return fmt.Errorf("snippet/vector count mismatch: %d != %d", len(snippets), len(vectors))
	}

	ctx, span := tracer.Start(ctx, "milvus.InsertSnippets",
		trace.WithAttributes(attribute.Int("count", len(snippets))))
	defer span.End()

	n := len(snippets)
	ids := make([]string, n)
	threadIDs := make([]string, n)
	roles := make([]string, n)
	createdAts := make([]int64, n)
	texts := make([]string, n)
	for i, s := range snippets {
		ids[i] = s.ID
		threadIDs[i] = s.ThreadID
		roles[i] = s.Role
		createdAts[i] = s.CreatedAt
		texts[i] = s.Text
	}

	_, err := r.client.milvus.Insert(ctx, r.client.CollectionName(CollectionThreadSnippets), "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector("vector", r.dim, vectors),
		entity.NewColumnVarChar("thread_id", threadIDs),
		entity.NewColumnVarChar("role", roles),
		entity.NewColumnInt64("created_at", createdAts),
		entity.NewColumnVarChar("text_content", texts),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert snippets: %w", err)
	}
	return nil
}

// Search 线程内相似度检索
func (r *SnippetRepository) Search(ctx context.Context, threadID string, vector []float32, topK int) ([]*repository.Snippet, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = r.client.config.SearchTopK
	}
	if topK <= 0 {
		topK = 4
	}

	ctx, span := tracer.Start(ctx, "milvus.SearchSnippets",
		trace.WithAttributes(
			attribute.String("thread_id", threadID),
			attribute.Int("top_k", topK),
		))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.SnippetSearchDuration.WithLabelValues(CollectionThreadSnippets).Observe(time.Since(start).Seconds())
	}()

	sp, err := entity.NewIndexHNSWSearchParam(128)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := r.client.milvus.Search(ctx,
		r.client.CollectionName(CollectionThreadSnippets),
		nil,
		threadFilter(threadID),
		[]string{"id", "thread_id", "role", "created_at", "text_content"},
		[]entity.Vector{entity.FloatVector(vector)},
		"vector",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var out []*repository.Snippet
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			s := &repository.Snippet{ThreadID: threadID, Score: result.Scores[i]}
			if col, ok := result.Fields.GetColumn("id").(*entity.ColumnVarChar); ok {
				s.ID = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("role").(*entity.ColumnVarChar); ok {
				s.Role = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("created_at").(*entity.ColumnInt64); ok {
				s.CreatedAt = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("text_content").(*entity.ColumnVarChar); ok {
				s.Text = col.Data()[i]
			}
			out = append(out, s)
		}
	}

	span.SetAttributes(attribute.Int("result_count", len(out)))
	return out, nil
}

// DeleteByThread 删除线程的全部片段
func (r *SnippetRepository) DeleteByThread(ctx context.Context, threadID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(threadID) == "" {
		return nil
	}
	ctx, span := tracer.Start(ctx, "milvus.DeleteSnippets",
		trace.WithAttributes(attribute.String("thread_id", threadID)))
	defer span.End()

	if err := r.client.milvus.Delete(ctx, r.client.CollectionName(CollectionThreadSnippets), "", threadFilter(threadID)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete snippets: %w", err)
	}
	return nil
}

func threadFilter(threadID string) string {
	return "thread_id == " + strconv.Quote(threadID)
}
