package quota

import (
	"context"
	"fmt"
	"time"

	"deck-assistant-api/internal/domain/repository"
)

// TokenQuotaExceededError 表示身份的 Token 日预算已耗尽
type TokenQuotaExceededError struct {
	SubjectKey string
	Max        int64
	Used       int64
}

func (e TokenQuotaExceededError) Error() string {
	return fmt.Sprintf("token quota exceeded: subject=%s used=%d max=%d", e.SubjectKey, e.Used, e.Max)
}

// TokenQuotaChecker 检查身份的 Token 日预算
type TokenQuotaChecker struct {
	llmRepo repository.LLMUsageEventRepository
	budget  int64
	now     func() time.Time
}

func NewTokenQuotaChecker(llmRepo repository.LLMUsageEventRepository, dailyBudget int64) *TokenQuotaChecker {
	return &TokenQuotaChecker{
		llmRepo: llmRepo,
		budget:  dailyBudget,
		now:     time.Now,
	}
}

// CheckDailyTokens 检查当日 Token 预算，预算为 0 时不限制
// 返回 used/max 便于展示，超出时返回 TokenQuotaExceededError
func (c *TokenQuotaChecker) CheckDailyTokens(ctx context.Context, subjectKey string) (used int64, max int64, err error) {
	if c == nil || c.budget <= 0 || c.llmRepo == nil {
		return 0, 0, nil
	}

	now := c.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	used, err = c.llmRepo.GetTokenUsage(ctx, subjectKey, start, end)
	if err != nil {
		return 0, c.budget, err
	}
	if used >= c.budget {
		return used, c.budget, TokenQuotaExceededError{
			SubjectKey: subjectKey,
			Max:        c.budget,
			Used:       used,
		}
	}
	return used, c.budget, nil
}
