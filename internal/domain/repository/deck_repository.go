package repository

import (
	"context"

	"deck-assistant-api/internal/domain/entity"
)

// DeckRepository 套牌存储（只读）
type DeckRepository interface {
	// GetDeck 返回套牌及其卡牌，不存在时返回 ErrNotFound
	GetDeck(ctx context.Context, id string) (*entity.Deck, error)
}

// CardRepository 卡牌目录
type CardRepository interface {
	GetByNormalizedNames(ctx context.Context, names []string) ([]*entity.Card, error)
	Upsert(ctx context.Context, cards []*entity.Card) error
	Count(ctx context.Context) (int64, error)
}
