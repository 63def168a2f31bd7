package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
	redisstore "deck-assistant-api/internal/infrastructure/persistence/redis"
	apperrors "deck-assistant-api/pkg/errors"
	"deck-assistant-api/pkg/metrics"
)

type memStore struct {
	mu     sync.Mutex
	counts map[string]int64
	calls  int
	err    error
}

func newMemStore() *memStore {
	return &memStore{counts: make(map[string]int64)}
}

func (s *memStore) IncrementAndCheck(ctx context.Context, key string, w repository.WindowSpec) (repository.QuotaDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return repository.QuotaDecision{}, s.err
	}
	k := key + "|" + w.Scope
	if s.counts[k] >= int64(w.Limit) {
		return repository.QuotaDecision{Allowed: false, Count: s.counts[k], ResetAt: time.Unix(0, 0)}, nil
	}
	s.counts[k]++
	return repository.QuotaDecision{Allowed: true, Count: s.counts[k], ResetAt: time.Unix(60, 0)}, nil
}

func testQuotaConfig() *config.QuotaConfig {
	return &config.QuotaConfig{
		FailOpen: true,
		Tiers: map[string]config.QuotaLimits{
			"guest": {PerMinute: 2, PerDay: 3},
			"free":  {PerMinute: 3, PerDay: 100},
		},
	}
}

func TestGuard_MinuteLimit(t *testing.T) {
	store := newMemStore()
	g := NewGuard(store, testQuotaConfig())
	id := entity.NewUserIdentity("u1", entity.TierFree)

	for i := 0; i < 3; i++ {
		adm, err := g.Admit(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, adm.Degraded)
		assert.Len(t, adm.Decisions, 2)
	}

	_, err := g.Admit(context.Background(), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)

	appErr := apperrors.AsAppError(err)
	assert.Equal(t, ScopeMinute, appErr.Details["scope"])
	assert.Equal(t, 3, appErr.Details["limit"])
	assert.Contains(t, appErr.Details, "resetAt")
}

func TestGuard_DayLimitAfterMinuteAllowed(t *testing.T) {
	store := newMemStore()
	g := NewGuard(store, testQuotaConfig())
	guest := entity.NewGuestIdentity("g1", "token-abc")

	// 访客分钟 2 次，日 3 次；前两次消耗分钟窗口
	for i := 0; i < 2; i++ {
		_, err := g.Admit(context.Background(), guest)
		require.NoError(t, err)
	}
	store.mu.Lock()
	store.counts[guest.Key+"|guest_minute"] = 0
	store.mu.Unlock()

	_, err := g.Admit(context.Background(), guest)
	require.NoError(t, err)

	_, err = g.Admit(context.Background(), guest)
	require.Error(t, err)
	assert.Equal(t, ScopeDay, apperrors.AsAppError(err).Details["scope"])
}

func TestGuard_GuestCountersAreSeparate(t *testing.T) {
	store := newMemStore()
	g := NewGuard(store, testQuotaConfig())

	guest := entity.NewGuestIdentity("g1", "token-abc")
	_, err := g.Admit(context.Background(), guest)
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, int64(1), store.counts[guest.Key+"|guest_minute"])
	assert.Equal(t, int64(0), store.counts[guest.Key+"|minute"])
}

func TestGuard_GuestKeyBoundToToken(t *testing.T) {
	a := entity.NewGuestIdentity("g1", "token-a")
	b := entity.NewGuestIdentity("g1", "token-b")
	assert.NotEqual(t, a.Key, b.Key)
	assert.Len(t, a.Key, len("guest:")+16)
}

func TestGuard_FailOpenRecordsOneDegradation(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	g := NewGuard(store, testQuotaConfig())

	before := testutil.ToFloat64(metrics.QuotaDegradedTotal.WithLabelValues(ScopeMinute)) +
		testutil.ToFloat64(metrics.QuotaDegradedTotal.WithLabelValues(ScopeDay))

	adm, err := g.Admit(context.Background(), entity.NewUserIdentity("u1", entity.TierFree))
	require.NoError(t, err)
	assert.True(t, adm.Degraded)

	after := testutil.ToFloat64(metrics.QuotaDegradedTotal.WithLabelValues(ScopeMinute)) +
		testutil.ToFloat64(metrics.QuotaDegradedTotal.WithLabelValues(ScopeDay))
	assert.Equal(t, 1.0, after-before)
	assert.Equal(t, 1, store.calls, "remaining scopes are skipped once degraded")
}

func TestGuard_FailClosed(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	cfg := testQuotaConfig()
	cfg.FailOpen = false
	g := NewGuard(store, cfg)

	_, err := g.Admit(context.Background(), entity.NewUserIdentity("u1", entity.TierFree))
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavailable)
}

func TestGuard_DefaultsForUnconfiguredTier(t *testing.T) {
	g := NewGuard(newMemStore(), &config.QuotaConfig{})
	assert.Equal(t, DefaultLimits[entity.TierPro], g.LimitsFor(entity.TierPro))
}

func TestGuard_RedisStoreNeverExceedsLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	g := NewGuard(redisstore.NewQuotaStore(redisstore.WrapClient(rdb)), &config.QuotaConfig{
		FailOpen: true,
		Tiers:    map[string]config.QuotaLimits{"pro": {PerMinute: 1000, PerDay: 7}},
	})
	id := entity.NewUserIdentity("u1", entity.TierPro)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Admit(context.Background(), id); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 7, admitted)
}
