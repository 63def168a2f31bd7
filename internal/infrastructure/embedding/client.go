// Package embedding 提供 Embedding 服务客户端
package embedding

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"deck-assistant-api/internal/config"
)

// Client 按批调用 Eino Embedder，输出 float32 向量供 Milvus 使用
type Client struct {
	embedder  embedding.Embedder
	batchSize int
	dimension int
}

// NewEinoEmbedder 创建基于 Eino OpenAI 适配器的 Embedder
func NewEinoEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}

	embedder, err := openai.NewEmbedder(ctx, &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.Endpoint,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino embedder: %w", err)
	}
	return embedder, nil
}

// NewClient 包装任意 Embedder
func NewClient(embedder embedding.Embedder, cfg *config.EmbeddingConfig) *Client {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Client{embedder: embedder, batchSize: batchSize, dimension: cfg.Dimension}
}

// Embed 批量向量化，返回顺序与输入一致
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += c.batchSize {
		end := min(i+c.batchSize, len(texts))

		vectors, err := c.embedder.EmbedStrings(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d failed: %w", i/c.batchSize, err)
		}
		if len(vectors) != end-i {
			return nil, fmt.Errorf("embedding batch %d returned %d vectors for %d texts", i/c.batchSize, len(vectors), end-i)
		}
		for _, v := range vectors {
			if c.dimension > 0 && len(v) != c.dimension {
				return nil, fmt.Errorf("embedding dimension mismatch: want %d, got %d", c.dimension, len(v))
			}
			all = append(all, toFloat32(v))
		}
	}
	return all, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
