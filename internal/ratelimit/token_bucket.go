package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// bucketScript refills and drains a per-subject bucket in one atomic
// round trip. State is a Redis hash of {level, refilled_at}; the level
// is fractional so slow refill rates still accumulate.
var bucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call("HMGET", KEYS[1], "level", "refilled_at")
local level = tonumber(state[1]) or capacity
local refilled_at = tonumber(state[2]) or now

if now > refilled_at then
  level = math.min(capacity, level + (now - refilled_at) * rate)
end

local granted = 0
local wait = 0
if level >= cost then
  level = level - cost
  granted = 1
else
  wait = math.ceil((cost - level) / rate)
end

redis.call("HMSET", KEYS[1], "level", level, "refilled_at", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {granted, math.floor(level), wait}
`)

// RedisTokenBucket throttles subjects with a refilling bucket shared by
// every proxy replica.
type RedisTokenBucket struct {
	client    redis.UniversalClient
	capacity  int64
	ratePerMS float64
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "pixelpress:ratelimit"
	}

	windowMS := window.Milliseconds()
	if windowMS < 1 {
		windowMS = 1
	}

	return &RedisTokenBucket{
		client:    client,
		capacity:  int64(capacity),
		ratePerMS: float64(capacity) / float64(windowMS),
		ttl:       2 * window,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

func (l *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}

	raw, err := bucketScript.Run(
		ctx,
		l.client,
		[]string{l.keyPrefix + ":" + subject},
		l.capacity,
		l.ratePerMS,
		l.now().UTC().UnixMilli(),
		1,
		l.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}

	granted, remaining, waitMS, err := decodeReply(raw)
	if err != nil {
		return Decision{}, err
	}

	return Decision{
		Allowed:    granted == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(waitMS) * time.Millisecond,
	}, nil
}

func decodeReply(raw any) (granted, remaining, waitMS int64, err error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid token bucket reply: %v", raw)
	}

	out := make([]int64, 3)
	for i, v := range values {
		out[i], err = replyInt(v)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("token bucket reply field %d: %w", i, err)
		}
	}
	return out[0], out[1], out[2], nil
}

func replyInt(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
