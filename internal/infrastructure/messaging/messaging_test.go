package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deck-assistant-api/pkg/logger"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestProducer_PublishSummaryRefresh(t *testing.T) {
	_, rdb := newTestRedis(t)
	p := NewProducer(rdb, 100)

	ctx := logger.WithContext(context.Background(), logger.RequestIDKey, "req-1")
	id, err := p.PublishSummaryRefresh(ctx, &SummaryRefreshMessage{ThreadID: "t1", UserKey: "user:u1", Tier: "free"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := rdb.XRange(context.Background(), string(StreamChatSummary), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	msg, ok := decode(entries[0])
	require.True(t, ok)
	assert.Equal(t, MessageTypeSummaryRefresh, msg.Type)
	assert.Equal(t, "t1", msg.ThreadID)
	assert.Equal(t, "req-1", msg.GetMetadata("request_id"))

	var job SummaryRefreshMessage
	require.NoError(t, msg.UnmarshalPayload(&job))
	assert.Equal(t, "user:u1", job.UserKey)
}

func TestConsumer_DeliversToHandler(t *testing.T) {
	_, rdb := newTestRedis(t)
	p := NewProducer(rdb, 100)

	c := NewConsumer(rdb, ConsumerConfig{
		Stream:       StreamChatSummary,
		Group:        ConsumerGroupSummaryWorker,
		ConsumerName: "test-1",
		BlockTimeout: 50 * time.Millisecond,
	})

	got := make(chan *Message, 1)
	c.RegisterHandler(MessageTypeSummaryRefresh, func(ctx context.Context, msg *Message) error {
		got <- msg
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	require.Error(t, c.Start(ctx), "second start is rejected")

	_, err := p.PublishSummaryRefresh(context.Background(), &SummaryRefreshMessage{ThreadID: "t9"})
	require.NoError(t, err)

	select {
	case msg := <-got:
		assert.Equal(t, "t9", msg.ThreadID)
	case <-time.After(3 * time.Second):
		t.Fatal("handler was not invoked")
	}

	cancel()
	c.Wait()

	pending, err := rdb.XPending(context.Background(), string(StreamChatSummary), string(ConsumerGroupSummaryWorker)).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count, "handled message is acked")
}

func TestConsumer_FailureLeavesPending(t *testing.T) {
	_, rdb := newTestRedis(t)
	p := NewProducer(rdb, 100)

	c := NewConsumer(rdb, ConsumerConfig{
		Stream:       StreamChatSummary,
		Group:        ConsumerGroupSummaryWorker,
		ConsumerName: "test-1",
		BlockTimeout: 50 * time.Millisecond,
		Backoff:      BackoffConfig{Initial: time.Hour, Max: time.Hour, Multiplier: 1},
	})
	calls := make(chan struct{}, 4)
	c.RegisterHandler(MessageTypeSummaryRefresh, func(ctx context.Context, msg *Message) error {
		calls <- struct{}{}
		return errors.New("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	_, err := p.PublishSummaryRefresh(context.Background(), &SummaryRefreshMessage{ThreadID: "t1"})
	require.NoError(t, err)

	select {
	case <-calls:
	case <-time.After(3 * time.Second):
		t.Fatal("handler was not invoked")
	}
	c.Stop()
	cancel()
	c.Wait()

	pending, err := rdb.XPending(context.Background(), string(StreamChatSummary), string(ConsumerGroupSummaryWorker)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}

func TestBackoffConfig_CalculateBackoff(t *testing.T) {
	b := BackoffConfig{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, b.CalculateBackoff(0))
	assert.Equal(t, 4*time.Second, b.CalculateBackoff(2))
	assert.Equal(t, 5*time.Second, b.CalculateBackoff(10))
}
