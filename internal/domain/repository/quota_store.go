package repository

import (
	"context"
	"time"
)

// WindowSpec 计数窗口
type WindowSpec struct {
	Scope string
	Size  time.Duration
	Limit int
}

// QuotaDecision 单次计数结果
type QuotaDecision struct {
	Allowed bool
	Count   int64
	ResetAt time.Time
}

// QuotaStore 持久化计数器，需保证原子自增并读取
type QuotaStore interface {
	IncrementAndCheck(ctx context.Context, key string, window WindowSpec) (QuotaDecision, error)
}
