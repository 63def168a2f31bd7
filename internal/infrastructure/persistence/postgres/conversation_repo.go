// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
)

type ConversationRepository struct {
	client *Client
}

var _ repository.ConversationRepository = (*ConversationRepository)(nil)

func NewConversationRepository(client *Client) *ConversationRepository {
	return &ConversationRepository{client: client}
}

func (r *ConversationRepository) CreateThread(ctx context.Context, thread *entity.ChatThread) error {
	ctx, span := tracer.Start(ctx, "postgres.ConversationRepository.CreateThread")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(thread).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create chat thread: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetThread(ctx context.Context, id string) (*entity.ChatThread, error) {
	ctx, span := tracer.Start(ctx, "postgres.ConversationRepository.GetThread")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var thread entity.ChatThread
	if err := db.First(&thread, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get chat thread %s: %w", id, translateNotFound(err))
	}
	return &thread, nil
}

func (r *ConversationRepository) GetHistory(ctx context.Context, threadID string, limit int) ([]*entity.ChatMessage, error) {
	ctx, span := tracer.Start(ctx, "postgres.ConversationRepository.GetHistory")
	defer span.End()

	if limit <= 0 {
		return nil, nil
	}

	db := getDB(ctx, r.client.db)
	var msgs []*entity.ChatMessage
	if err := db.Where("thread_id = ?", threadID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, msg *entity.ChatMessage) error {
	ctx, span := tracer.Start(ctx, "postgres.ConversationRepository.AppendMessage")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(msg).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	if err := db.Model(&entity.ChatThread{}).
		Where("id = ?", msg.ThreadID).
		Update("updated_at", time.Now()).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to touch chat thread: %w", err)
	}
	return nil
}

func (r *ConversationRepository) UpdateSummary(ctx context.Context, threadID, summary string) error {
	ctx, span := tracer.Start(ctx, "postgres.ConversationRepository.UpdateSummary")
	defer span.End()

	db := getDB(ctx, r.client.db)
	res := db.Model(&entity.ChatThread{}).Where("id = ?", threadID).Update("summary", summary)
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to update thread summary: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to update thread summary %s: %w", threadID, repository.ErrNotFound)
	}
	return nil
}

func (r *ConversationRepository) ListMessages(ctx context.Context, threadID string, pagination repository.Pagination) (*repository.PagedResult[*entity.ChatMessage], error) {
	ctx, span := tracer.Start(ctx, "postgres.ConversationRepository.ListMessages")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.ChatMessage{}).Where("thread_id = ?", threadID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count chat messages: %w", err)
	}

	var msgs []*entity.ChatMessage
	if err := query.Order("created_at ASC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&msgs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}

	return repository.NewPagedResult(msgs, total, pagination), nil
}
