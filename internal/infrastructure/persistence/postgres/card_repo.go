// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
)

type CardRepository struct {
	client *Client
}

var _ repository.CardRepository = (*CardRepository)(nil)

func NewCardRepository(client *Client) *CardRepository {
	return &CardRepository{client: client}
}

func (r *CardRepository) GetByNormalizedNames(ctx context.Context, names []string) ([]*entity.Card, error) {
	ctx, span := tracer.Start(ctx, "postgres.CardRepository.GetByNormalizedNames")
	defer span.End()

	if len(names) == 0 {
		return nil, nil
	}

	db := getDB(ctx, r.client.db)
	var cards []*entity.Card
	if err := db.Where("normalized_name IN ?", names).Find(&cards).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to lookup cards: %w", err)
	}
	return cards, nil
}

func (r *CardRepository) Upsert(ctx context.Context, cards []*entity.Card) error {
	ctx, span := tracer.Start(ctx, "postgres.CardRepository.Upsert")
	defer span.End()

	if len(cards) == 0 {
		return nil
	}

	db := getDB(ctx, r.client.db)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "normalized_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "color_identity", "type_line"}),
	}).CreateInBatches(cards, 500).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upsert cards: %w", err)
	}
	return nil
}

func (r *CardRepository) Count(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.CardRepository.Count")
	defer span.End()

	var n int64
	if err := getDB(ctx, r.client.db).Model(&entity.Card{}).Count(&n).Error; err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}
