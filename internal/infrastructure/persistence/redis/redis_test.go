package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deck-assistant-api/internal/domain/repository"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, WrapClient(rdb)
}

func TestQuotaStore_MinuteWindow(t *testing.T) {
	mr, client := newTestClient(t)
	now := time.Date(2026, 3, 1, 10, 15, 42, 0, time.UTC)
	mr.SetTime(now)

	store := NewQuotaStore(client)
	store.now = func() time.Time { return now }
	ctx := context.Background()
	window := repository.WindowSpec{Scope: "minute", Size: time.Minute, Limit: 3}

	for i := 1; i <= 3; i++ {
		d, err := store.IncrementAndCheck(ctx, "user:u1", window)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(i), d.Count)
		assert.Equal(t, time.Date(2026, 3, 1, 10, 16, 42, 0, time.UTC), d.ResetAt)
	}

	d, err := store.IncrementAndCheck(ctx, "user:u1", window)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(3), d.Count, "rejected requests are not recorded")

	// 其他身份互不影响
	d, err = store.IncrementAndCheck(ctx, "user:u2", window)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	now = now.Add(30 * time.Second)
	d, err = store.IncrementAndCheck(ctx, "user:u1", window)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "still inside the rolling minute")

	now = time.Date(2026, 3, 1, 10, 16, 42, 0, time.UTC)
	d, err = store.IncrementAndCheck(ctx, "user:u1", window)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Count)
	assert.Equal(t, now.Add(time.Minute), d.ResetAt)
	assert.True(t, mr.Exists(BuildQuotaKey("user:u1", "minute")))
}

func TestQuotaStore_NoBurstAcrossMinuteBoundary(t *testing.T) {
	_, client := newTestClient(t)
	now := time.Date(2026, 3, 1, 10, 15, 50, 0, time.UTC)
	store := NewQuotaStore(client)
	store.now = func() time.Time { return now }
	ctx := context.Background()
	window := repository.WindowSpec{Scope: "minute", Size: time.Minute, Limit: 2}

	admitted := 0
	for _, at := range []time.Duration{0, 5 * time.Second, 15 * time.Second, 20 * time.Second, 55 * time.Second} {
		now = time.Date(2026, 3, 1, 10, 15, 50, 0, time.UTC).Add(at)
		d, err := store.IncrementAndCheck(ctx, "user:u1", window)
		require.NoError(t, err)
		if d.Allowed {
			admitted++
		}
	}
	assert.Equal(t, 2, admitted, "10:15:50 through 10:16:45 lies within one rolling minute")

	now = time.Date(2026, 3, 1, 10, 16, 50, 0, time.UTC)
	d, err := store.IncrementAndCheck(ctx, "user:u1", window)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(2), d.Count, "the 10:15:55 request is still counted")
}

func TestQuotaStore_DayWindow(t *testing.T) {
	mr, client := newTestClient(t)
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.FixedZone("X", 3*3600))
	mr.SetTime(now)

	store := NewQuotaStore(client)
	store.now = func() time.Time { return now }

	d, err := store.IncrementAndCheck(context.Background(), "guest:abc", repository.WindowSpec{Scope: "day", Size: 24 * time.Hour, Limit: 20})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, now.Add(24*time.Hour).Equal(d.ResetAt))
	assert.Equal(t, time.UTC, d.ResetAt.Location())

	key := BuildQuotaKey("guest:abc", "day")
	assert.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key), time.Duration(0))
}

func TestQuotaStore_StoreUnavailable(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewQuotaStore(client)
	mr.Close()

	_, err := store.IncrementAndCheck(context.Background(), "user:u1", repository.WindowSpec{Scope: "minute", Size: time.Minute, Limit: 1})
	require.Error(t, err)
}

func TestQuotaStore_InvalidWindow(t *testing.T) {
	_, client := newTestClient(t)
	_, err := NewQuotaStore(client).IncrementAndCheck(context.Background(), "k", repository.WindowSpec{Scope: "minute"})
	require.Error(t, err)
}

func TestCache_GetSetInvalidate(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewCache(client)
	ctx := context.Background()

	_, err := cache.Get(ctx, "chat:resp:a")
	require.ErrorIs(t, err, repository.ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, "chat:resp:a", []byte("hello"), time.Minute))
	require.NoError(t, cache.Set(ctx, "chat:resp:b", []byte("world"), time.Minute))
	require.NoError(t, cache.Set(ctx, "other:c", []byte("keep"), time.Minute))

	got, err := cache.Get(ctx, "chat:resp:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	n, err := cache.InvalidatePattern(ctx, "chat:resp:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = cache.Get(ctx, "chat:resp:b")
	require.ErrorIs(t, err, repository.ErrCacheMiss)
	_, err = cache.Get(ctx, "other:c")
	require.NoError(t, err)
}

func TestClient_HealthCheck(t *testing.T) {
	mr, client := newTestClient(t)
	require.NoError(t, client.HealthCheck(context.Background()))
	mr.Close()
	require.Error(t, client.HealthCheck(context.Background()))
}
