package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/service"
)

type usageRepo struct {
	used    int64
	err     error
	created []*entity.LLMUsageEvent
	start   time.Time
}

func (r *usageRepo) Create(ctx context.Context, e *entity.LLMUsageEvent) error {
	r.created = append(r.created, e)
	return nil
}

func (r *usageRepo) GetTokenUsage(ctx context.Context, subjectKey string, start, end time.Time) (int64, error) {
	r.start = start
	return r.used, r.err
}

func TestTokenQuotaChecker(t *testing.T) {
	repo := &usageRepo{used: 100}
	c := NewTokenQuotaChecker(repo, 1000)
	c.now = func() time.Time { return time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC) }

	used, max, err := c.CheckDailyTokens(context.Background(), "user:u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), used)
	assert.Equal(t, int64(1000), max)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), repo.start)

	repo.used = 1000
	_, _, err = c.CheckDailyTokens(context.Background(), "user:u1")
	var exceeded TokenQuotaExceededError
	assert.ErrorAs(t, err, &exceeded)

	repo.err = errors.New("db down")
	_, _, err = c.CheckDailyTokens(context.Background(), "user:u1")
	assert.Error(t, err)
}

func TestTokenQuotaChecker_Disabled(t *testing.T) {
	c := NewTokenQuotaChecker(&usageRepo{used: 1 << 40}, 0)
	_, _, err := c.CheckDailyTokens(context.Background(), "user:u1")
	assert.NoError(t, err)

	var nilChecker *TokenQuotaChecker
	_, _, err = nilChecker.CheckDailyTokens(context.Background(), "user:u1")
	assert.NoError(t, err)
}

func TestLLMUsageRecorder(t *testing.T) {
	repo := &usageRepo{}
	r := NewLLMUsageRecorder(repo)

	require.NoError(t, r.Record(context.Background(), service.LLMUsageInput{SubjectKey: " ", PromptTokens: 1}))
	assert.Empty(t, repo.created, "anonymous usage is not recorded")

	require.NoError(t, r.Record(context.Background(), service.LLMUsageInput{
		SubjectKey: "user:u1", Workflow: "chat", Provider: "openai", Model: "gpt-4o-mini",
		PromptTokens: 10, CompletionTokens: 4,
	}))
	require.Len(t, repo.created, 1)
	assert.Equal(t, "user:u1", repo.created[0].SubjectKey)

	assert.Error(t, r.Record(context.Background(), service.LLMUsageInput{SubjectKey: "user:u1", PromptTokens: -1}))
}
