package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "ai-interview:ratelimit:"

// reserveScript checks every sorted-set window first and only then records
// the hit in all of them, so a denial leaves no trace.
//
// KEYS: one sorted set per scope.
// ARGV[1]: now in milliseconds, ARGV[2]: unique member,
// ARGV[2i+1], ARGV[2i+2]: window in milliseconds and max for KEYS[i].
// Returns {0, 0} when admitted, {i, retryMillis} when KEYS[i] denied.
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local member = ARGV[2]
for i, key in ipairs(KEYS) do
  local window = tonumber(ARGV[2 * i + 1])
  local limit = tonumber(ARGV[2 * i + 2])
  redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
  local count = redis.call('ZCARD', key)
  if count >= limit then
    local retry = window
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    if oldest[2] then
      retry = tonumber(oldest[2]) + window - now
    end
    return {i, retry}
  end
end
for i, key in ipairs(KEYS) do
  local window = tonumber(ARGV[2 * i + 1])
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
end
return {0, 0}
`)

// RedisStore keeps counters in Redis sorted sets so several replicas share
// the same limits. Keys expire on their own, so Sweep has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k Key) string { return s.prefix + k.String() }

func (s *RedisStore) Reserve(ctx context.Context, now time.Time, keys []Key) (Decision, error) {
	redisKeys := make([]string, len(keys))
	args := make([]any, 0, 2+2*len(keys))
	args = append(args, now.UnixMilli(), fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString()))
	for i, key := range keys {
		redisKeys[i] = s.key(key)
		args = append(args, key.Rule.Window.Milliseconds(), key.Rule.Max)
	}

	res, err := reserveScript.Run(ctx, s.client, redisKeys, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("reserve rate limit: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("reserve rate limit: unexpected reply %v", res)
	}

	if res[0] == 0 {
		return Decision{Allowed: true}, nil
	}

	idx := int(res[0]) - 1
	if idx < 0 || idx >= len(keys) {
		return Decision{}, fmt.Errorf("reserve rate limit: key index %d out of range", res[0])
	}

	retry := time.Duration(res[1]) * time.Millisecond
	if retry <= 0 {
		retry = time.Millisecond
	}
	return Decision{Allowed: false, Scope: keys[idx].Scope, RetryAfter: retry}, nil
}

func (s *RedisStore) Usage(ctx context.Context, now time.Time, key Key) (Usage, error) {
	redisKey := s.key(key)
	floor := strconv.FormatInt(now.Add(-key.Rule.Window).UnixMilli(), 10)

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", floor)
	count := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Usage{}, fmt.Errorf("rate limit usage: %w", err)
	}

	usage := Usage{Used: int(count.Val())}
	if hits := oldest.Val(); len(hits) > 0 {
		usage.Oldest = time.UnixMilli(int64(hits[0].Score))
	}
	return usage, nil
}

func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) { return 0, nil }
