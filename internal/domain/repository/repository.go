// Package repository 定义套牌、对话、配额与缓存的存储接口
package repository

import (
	"context"
	"errors"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// TxKey 事务 *gorm.DB 在 context 中的键
type TxKey struct{}

// Transactor 事务管理接口
type Transactor interface {
	// WithTransaction fn 内的仓储调用共享同一事务，返回错误时回滚
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Pagination 分页参数，线程消息按时间正序分页
type Pagination struct {
	Page     int
	PageSize int
}

func NewPagination(page, pageSize int) Pagination {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

func (p Pagination) Limit() int {
	return p.PageSize
}

// PagedResult 一页结果；HasMore 表示后面还有消息
type PagedResult[T any] struct {
	Items    []T
	Total    int64
	Page     int
	PageSize int
	HasMore  bool
}

func NewPagedResult[T any](items []T, total int64, p Pagination) *PagedResult[T] {
	if p.PageSize < 1 {
		p = NewPagination(p.Page, p.PageSize)
	}
	return &PagedResult[T]{
		Items:    items,
		Total:    total,
		Page:     p.Page,
		PageSize: p.PageSize,
		HasMore:  int64(p.Offset()+len(items)) < total,
	}
}
