package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"deck-assistant-api/internal/domain/repository"
)

// slidingScript 滑动窗口：清理窗口外记录，未超限时写入本次请求
// KEYS[1] 计数键
// ARGV[1] 当前时间(ms)  ARGV[2] 窗口起点(ms)  ARGV[3] 上限  ARGV[4] 成员  ARGV[5] 窗口长度(ms)
// 返回 {是否放行, 窗口内请求数, 最早一条记录的时间(ms)}
var slidingScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
  count = count + 1
  allowed = 1
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local first = tonumber(ARGV[1])
if oldest[2] then
  first = tonumber(oldest[2])
end
return {allowed, count, first}
`)

// QuotaStore 滑动窗口计数器
// 每个身份每个 scope 一个有序集合，成员为一次被放行的请求，分值为请求时间
type QuotaStore struct {
	client *Client
	now    func() time.Time
}

var _ repository.QuotaStore = (*QuotaStore)(nil)

// NewQuotaStore 创建配额计数存储
func NewQuotaStore(client *Client) *QuotaStore {
	return &QuotaStore{client: client, now: time.Now}
}

// IncrementAndCheck 原子地检查并记录一次请求
// 任意长度为 Size 的区间内放行的请求数不超过 Limit；ResetAt 为最早一条记录滑出窗口的时间
func (s *QuotaStore) IncrementAndCheck(ctx context.Context, key string, window repository.WindowSpec) (repository.QuotaDecision, error) {
	ctx, span := tracer.Start(ctx, "quota.IncrementAndCheck")
	defer span.End()

	if window.Size <= 0 || window.Limit <= 0 {
		return repository.QuotaDecision{}, fmt.Errorf("invalid window spec: size=%s limit=%d", window.Size, window.Limit)
	}

	now := s.now().UnixMilli()
	size := window.Size.Milliseconds()
	windowKey := BuildQuotaKey(key, window.Scope)

	span.SetAttributes(
		attribute.String("quota.key", windowKey),
		attribute.Int("quota.limit", window.Limit),
		attribute.Int64("quota.window_ms", size),
	)

	res, err := slidingScript.Run(ctx, s.client.rdb, []string{windowKey},
		strconv.FormatInt(now, 10),
		strconv.FormatInt(now-size, 10),
		window.Limit,
		strconv.FormatInt(now, 10)+"-"+uuid.NewString(),
		size,
	).Int64Slice()
	if err != nil {
		span.RecordError(err)
		return repository.QuotaDecision{}, fmt.Errorf("quota increment %s: %w", windowKey, err)
	}
	if len(res) != 3 {
		return repository.QuotaDecision{}, fmt.Errorf("quota increment %s: unexpected reply %v", windowKey, res)
	}

	decision := repository.QuotaDecision{
		Allowed: res[0] == 1,
		Count:   res[1],
		ResetAt: time.UnixMilli(res[2] + size).UTC(),
	}
	span.SetAttributes(
		attribute.Bool("quota.allowed", decision.Allowed),
		attribute.Int64("quota.count", decision.Count),
	)
	return decision, nil
}

// BuildQuotaKey 构建窗口计数键
func BuildQuotaKey(identityKey, scope string) string {
	return fmt.Sprintf("quota:%s:%s", identityKey, scope)
}
