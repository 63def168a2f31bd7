// Package milvus 提供 Milvus 向量数据库访问层实现
package milvus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"deck-assistant-api/internal/config"
)

var tracer = otel.Tracer("milvus")

// Client Milvus 客户端
type Client struct {
	milvus client.Client
	config *config.MilvusConfig
}

// connectTimeout 首次建连上限，向量库不可达时不拖慢进程启动
const connectTimeout = 10 * time.Second

// NewClient 连接 Milvus；未启用时返回错误，调用方按可选依赖处理
func NewClient(ctx context.Context, cfg *config.MilvusConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, fmt.Errorf("milvus is disabled")
	}

	clientCfg := client.Config{Address: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))}
	if cfg.User != "" {
		clientCfg.Username = cfg.User
		clientCfg.Password = cfg.Password
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	milvusClient, err := client.NewClient(dialCtx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", clientCfg.Address, err)
	}

	return &Client{milvus: milvusClient, config: cfg}, nil
}

// Close 关闭 Milvus 连接
func (c *Client) Close() error {
	return c.milvus.Close()
}

// HealthCheck 片段集合可查询即视为健康
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "milvus.HealthCheck")
	defer span.End()

	_, err := c.milvus.HasCollection(ctx, c.CollectionName(CollectionThreadSnippets))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// CollectionName 带前缀的集合名，多个环境可共用一个实例
func (c *Client) CollectionName(name string) string {
	if c.config.CollectionPrefix != "" {
		return c.config.CollectionPrefix + "_" + name
	}
	return name
}

// HasCollection 检查集合是否存在
func (c *Client) HasCollection(ctx context.Context, name string) (bool, error) {
	ctx, span := tracer.Start(ctx, "milvus.HasCollection",
		trace.WithAttributes(attribute.String("collection", name)))
	defer span.End()

	return c.milvus.HasCollection(ctx, c.CollectionName(name))
}

// LoadCollection 加载集合到内存
func (c *Client) LoadCollection(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "milvus.LoadCollection",
		trace.WithAttributes(attribute.String("collection", name)))
	defer span.End()

	return c.milvus.LoadCollection(ctx, c.CollectionName(name), false)
}
