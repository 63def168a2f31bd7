package repository

import (
	"context"

	"deck-assistant-api/internal/domain/entity"
)

// ConversationRepository 对话存储
type ConversationRepository interface {
	CreateThread(ctx context.Context, thread *entity.ChatThread) error
	GetThread(ctx context.Context, id string) (*entity.ChatThread, error)
	// GetHistory 返回最近 limit 条消息，按时间正序
	GetHistory(ctx context.Context, threadID string, limit int) ([]*entity.ChatMessage, error)
	AppendMessage(ctx context.Context, msg *entity.ChatMessage) error
	UpdateSummary(ctx context.Context, threadID, summary string) error
	ListMessages(ctx context.Context, threadID string, pagination Pagination) (*PagedResult[*entity.ChatMessage], error)
}
