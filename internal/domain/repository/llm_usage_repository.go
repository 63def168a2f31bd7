package repository

import (
	"context"
	"time"

	"deck-assistant-api/internal/domain/entity"
)

type LLMUsageEventRepository interface {
	Create(ctx context.Context, event *entity.LLMUsageEvent) error
	GetTokenUsage(ctx context.Context, subjectKey string, startInclusive, endExclusive time.Time) (int64, error)
}
