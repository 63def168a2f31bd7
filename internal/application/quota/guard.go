// Package quota 提供按身份的请求配额与 token 预算
package quota

import (
	"context"
	"fmt"
	"time"

	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
	apperrors "deck-assistant-api/pkg/errors"
	"deck-assistant-api/pkg/logger"
	"deck-assistant-api/pkg/metrics"
)

// 计数窗口
const (
	ScopeMinute = "minute"
	ScopeDay    = "day"

	guestScopePrefix = "guest_"
)

// Limits 单等级限额
type Limits struct {
	PerMinute int
	PerDay    int
}

// DefaultLimits 未配置时的等级默认值
var DefaultLimits = map[entity.Tier]Limits{
	entity.TierGuest: {PerMinute: 5, PerDay: 20},
	entity.TierFree:  {PerMinute: 20, PerDay: 500},
	entity.TierPro:   {PerMinute: 60, PerDay: 5000},
}

// Decision 单个窗口的判定
type Decision struct {
	Scope   string
	Allowed bool
	Limit   int
	Count   int64
	ResetAt time.Time
}

// Admission 一次请求的准入结果
type Admission struct {
	Decisions []Decision
	// Degraded 计数存储不可用，按 fail-open 放行
	Degraded bool
}

// Guard 请求配额守卫
type Guard struct {
	store    repository.QuotaStore
	limits   map[entity.Tier]Limits
	failOpen bool
}

// NewGuard 创建配额守卫
func NewGuard(store repository.QuotaStore, cfg *config.QuotaConfig) *Guard {
	limits := make(map[entity.Tier]Limits, len(DefaultLimits))
	for tier, l := range DefaultLimits {
		limits[tier] = l
	}
	for name, l := range cfg.Tiers {
		tier := entity.Tier(name)
		cur := limits[tier]
		if l.PerMinute > 0 {
			cur.PerMinute = l.PerMinute
		}
		if l.PerDay > 0 {
			cur.PerDay = l.PerDay
		}
		limits[tier] = cur
	}
	return &Guard{store: store, limits: limits, failOpen: cfg.FailOpen}
}

// LimitsFor 返回等级限额
func (g *Guard) LimitsFor(tier entity.Tier) Limits {
	if l, ok := g.limits[tier]; ok {
		return l
	}
	return g.limits[entity.TierFree]
}

// CheckAndConsume 对单个窗口原子地计数
func (g *Guard) CheckAndConsume(ctx context.Context, id entity.Identity, scope string, limit int, window time.Duration) (Decision, error) {
	res, err := g.store.IncrementAndCheck(ctx, id.Key, repository.WindowSpec{
		Scope: scopeKey(id, scope),
		Size:  window,
		Limit: limit,
	})
	if err != nil {
		return Decision{Scope: scope, Limit: limit}, err
	}
	return Decision{
		Scope:   scope,
		Allowed: res.Allowed,
		Limit:   limit,
		Count:   res.Count,
		ResetAt: res.ResetAt,
	}, nil
}

// Admit 依次检查分钟与日窗口，两者都放行才准入
// 已通过的窗口不回退
func (g *Guard) Admit(ctx context.Context, id entity.Identity) (*Admission, error) {
	limits := g.LimitsFor(id.Kind)
	windows := []struct {
		scope string
		limit int
		size  time.Duration
	}{
		{ScopeMinute, limits.PerMinute, time.Minute},
		{ScopeDay, limits.PerDay, 24 * time.Hour},
	}

	adm := &Admission{}
	for _, w := range windows {
		d, err := g.CheckAndConsume(ctx, id, w.scope, w.limit, w.size)
		if err != nil {
			if !g.failOpen {
				logger.Error(ctx, "quota store unavailable", err, "scope", w.scope)
				return nil, apperrors.ErrServiceUnavailable.WithError(err)
			}
			// 只上报一次，剩余窗口不再检查
			metrics.QuotaDegradedTotal.WithLabelValues(w.scope).Inc()
			logger.Warn(ctx, "quota store unavailable, admitting request",
				"scope", w.scope,
				"tier", string(id.Kind),
				"error", err.Error(),
			)
			adm.Degraded = true
			return adm, nil
		}

		adm.Decisions = append(adm.Decisions, d)
		if !d.Allowed {
			metrics.QuotaDecisionsTotal.WithLabelValues(string(id.Kind), w.scope, "rejected").Inc()
			return nil, apperrors.ErrQuotaExceeded.
				WithDetail(fmt.Sprintf("%s limit of %d reached", w.scope, w.limit)).
				WithDetails(map[string]any{
					"scope":   w.scope,
					"limit":   w.limit,
					"resetAt": d.ResetAt.UTC().Format(time.RFC3339),
				})
		}
		metrics.QuotaDecisionsTotal.WithLabelValues(string(id.Kind), w.scope, "allowed").Inc()
	}
	return adm, nil
}

// scopeKey 访客使用独立计数器，不与 free 共享
func scopeKey(id entity.Identity, scope string) string {
	if id.IsGuest() {
		return guestScopePrefix + scope
	}
	return scope
}
