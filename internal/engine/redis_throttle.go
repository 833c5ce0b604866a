package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

const throttleKeyPrefix = "scheduler:throttle:"

// The window is half-open on the left: runs at or before now-window are gone.
// Returns {allowed, count, retry_at_ms}.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {1, count + 1, 0}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = now + window
if oldest[2] then
  retry = tonumber(oldest[2]) + window
end
return {0, count, retry}
`)

// RedisThrottle shares the rolling window across replicas with a Lua script
// over a sorted set. When Redis is unavailable it degrades to an in-process
// window so the cap still holds for this replica.
type RedisThrottle struct {
	client   *redis.Client
	fallback *MemoryThrottle
	logger   *logging.Logger
}

func NewRedisThrottle(client *redis.Client, logger *logging.Logger) *RedisThrottle {
	if client == nil {
		panic("engine: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisThrottle{client: client, fallback: NewMemoryThrottle(), logger: logger}
}

func (t *RedisThrottle) Reserve(ctx context.Context, key string, now time.Time, limit int) Reservation {
	ctx, span := tracer.Start(ctx, "throttle.reserve")
	defer span.End()
	span.SetAttributes(attribute.String("throttle.key", key))

	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())
	vals, err := reserveScript.Run(ctx, t.client, []string{throttleKeyPrefix + key},
		nowMs, ThrottleWindow.Milliseconds(), limit, member).Int64Slice()
	if err != nil || len(vals) != 3 {
		if err == nil {
			err = fmt.Errorf("unexpected reply of %d values", len(vals))
		}
		span.RecordError(err)
		t.logger.Warn("redis throttle unavailable, using local window", "key", key, "error", err)
		return t.fallback.Reserve(ctx, key, now, limit)
	}

	res := Reservation{Allowed: vals[0] == 1, Count: int(vals[1])}
	if !res.Allowed {
		res.RetryAt = time.UnixMilli(vals[2]).In(now.Location())
	}
	span.SetAttributes(attribute.Bool("throttle.allowed", res.Allowed), attribute.Int("throttle.count", res.Count))
	return res
}

func (t *RedisThrottle) Count(ctx context.Context, key string, now time.Time) int {
	lower := fmt.Sprintf("(%d", now.Add(-ThrottleWindow).UnixMilli())
	n, err := t.client.ZCount(ctx, throttleKeyPrefix+key, lower, "+inf").Result()
	if err != nil {
		t.logger.Warn("redis throttle count failed", "key", key, "error", err)
		return t.fallback.Count(ctx, key, now)
	}
	return int(n)
}
