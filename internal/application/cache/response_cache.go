// Package cache 提供对话响应缓存与研究笔记缓存
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"deck-assistant-api/internal/domain/repository"
	"deck-assistant-api/internal/domain/service"
	"deck-assistant-api/pkg/logger"
	"deck-assistant-api/pkg/metrics"
)

// DefaultResponseTTL 响应缓存默认有效期
const DefaultResponseTTL = time.Hour

// Entry 缓存的最终答案
type Entry struct {
	Key        string        `json:"key"`
	Text       string        `json:"text"`
	Usage      service.Usage `json:"usage"`
	IsFallback bool          `json:"is_fallback"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

// ResponseCache 单键单值，后写覆盖，读取时惰性判断过期
type ResponseCache struct {
	kv  repository.KVCache
	ttl time.Duration
	now func() time.Time
}

// NewResponseCache 创建响应缓存
func NewResponseCache(kv repository.KVCache, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultResponseTTL
	}
	return &ResponseCache{kv: kv, ttl: ttl, now: time.Now}
}

// Get 读取缓存，过期或存储异常均视为未命中
func (c *ResponseCache) Get(ctx context.Context, key string) (*Entry, bool) {
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrCacheMiss) {
			logger.Warn(ctx, "response cache read failed", "key", key, "error", err.Error())
		}
		metrics.CacheLookupsTotal.WithLabelValues("response", "miss").Inc()
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		logger.Warn(ctx, "response cache entry corrupt", "key", key, "error", err.Error())
		metrics.CacheLookupsTotal.WithLabelValues("response", "miss").Inc()
		return nil, false
	}
	if !e.ExpiresAt.IsZero() && !c.now().Before(e.ExpiresAt) {
		metrics.CacheLookupsTotal.WithLabelValues("response", "expired").Inc()
		return nil, false
	}

	metrics.CacheLookupsTotal.WithLabelValues("response", "hit").Inc()
	return &e, true
}

// Set 写入缓存，降级答案不写入
func (c *ResponseCache) Set(ctx context.Context, key string, e Entry) bool {
	if e.IsFallback {
		return false
	}
	e.Key = key
	e.ExpiresAt = c.now().Add(c.ttl)

	raw, err := json.Marshal(e)
	if err != nil {
		logger.Warn(ctx, "response cache encode failed", "key", key, "error", err.Error())
		return false
	}
	if err := c.kv.Set(ctx, key, raw, c.ttl); err != nil {
		logger.Warn(ctx, "response cache write failed", "key", key, "error", err.Error())
		return false
	}
	return true
}
