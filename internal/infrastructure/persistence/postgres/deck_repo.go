// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
)

type DeckRepository struct {
	client *Client
}

var _ repository.DeckRepository = (*DeckRepository)(nil)

func NewDeckRepository(client *Client) *DeckRepository {
	return &DeckRepository{client: client}
}

func (r *DeckRepository) GetDeck(ctx context.Context, id string) (*entity.Deck, error) {
	ctx, span := tracer.Start(ctx, "postgres.DeckRepository.GetDeck")
	defer span.End()
	span.SetAttributes(attribute.String("deck.id", id))

	db := getDB(ctx, r.client.db)
	var deck entity.Deck
	err := db.Preload("Cards", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("name ASC")
	}).First(&deck, "id = ?", id).Error
	if err != nil {
		err = translateNotFound(err)
		if !errors.Is(err, repository.ErrNotFound) {
			span.RecordError(err)
		}
		return nil, fmt.Errorf("failed to get deck %s: %w", id, err)
	}
	return &deck, nil
}
