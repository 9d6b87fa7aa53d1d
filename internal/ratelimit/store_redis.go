package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "kyc:ratelimit:"

// slidingWindowScript trims the window, counts it, and records the hit only
// when under the limit, all in one server-side step so concurrent callers
// cannot both observe the last free slot.
//
// KEYS[1] window key
// ARGV[1] now (unix micros), ARGV[2] cutoff (unix micros), ARGV[3] limit,
// ARGV[4] member, ARGV[5] key ttl (millis)
//
// Returns {allowed, used before this hit, oldest score in the window}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local used = redis.call('ZCARD', key)
local allowed = 0
if used < tonumber(ARGV[3]) then
	redis.call('ZADD', key, ARGV[1], ARGV[4])
	redis.call('PEXPIRE', key, ARGV[5])
	allowed = 1
end
local oldest = tonumber(ARGV[1])
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if #first > 0 then
	oldest = tonumber(first[2])
end
return {allowed, used, oldest}
`)

// RedisStore keeps one sorted set per key, scored by request time in
// microseconds, so every replica sees the same window.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := s.now()
	ttl := max(window.Milliseconds(), 1)

	res, err := slidingWindowScript.Run(ctx, s.client, []string{redisKeyPrefix + key},
		strconv.FormatInt(now.UnixMicro(), 10),
		strconv.FormatInt(now.Add(-window).UnixMicro(), 10),
		limit,
		uuid.NewString(),
		ttl,
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("apply rate limit window: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("apply rate limit window: unexpected reply %v", res)
	}

	result := &Result{
		Allowed: res[0] == 1,
		Limit:   limit,
		ResetAt: time.UnixMicro(res[2]).Add(window),
	}
	if result.Allowed {
		result.Remaining = limit - int(res[1]) - 1
	}
	return result, nil
}
