package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"deck-assistant-api/pkg/metrics"
)

// DefaultNoteTTL 研究笔记默认有效期
const DefaultNoteTTL = 10 * time.Minute

type noteEntry struct {
	text      string
	expiresAt time.Time
}

// NoteCache 按主题缓存研究笔记，同一主题的并发加载合并为一次
type NoteCache struct {
	mu    sync.Mutex
	notes map[string]noteEntry
	group singleflight.Group
	ttl   time.Duration
	now   func() time.Time
}

func NewNoteCache(ttl time.Duration) *NoteCache {
	if ttl <= 0 {
		ttl = DefaultNoteTTL
	}
	return &NoteCache{notes: make(map[string]noteEntry), ttl: ttl, now: time.Now}
}

// GetOrLoad 命中直接返回，否则调用 load；load 失败不缓存
func (c *NoteCache) GetOrLoad(ctx context.Context, topic string, load func(ctx context.Context) (string, error)) (string, error) {
	if text, ok := c.get(topic); ok {
		metrics.CacheLookupsTotal.WithLabelValues("research_note", "hit").Inc()
		return text, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("research_note", "miss").Inc()

	v, err, _ := c.group.Do(topic, func() (any, error) {
		if text, ok := c.get(topic); ok {
			return text, nil
		}
		text, err := load(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.notes[topic] = noteEntry{text: text, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *NoteCache) get(topic string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.notes[topic]
	if !ok {
		return "", false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.notes, topic)
		return "", false
	}
	return e.text, true
}
