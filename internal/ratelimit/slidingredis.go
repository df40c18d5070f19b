package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Trims expired hits and records the new one only when under the limit, so
// rejected attempts do not extend the window. Returns {allowed, count, oldest_ms}.
var slidingScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], ARGV[2], ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call("PEXPIRE", KEYS[1], ARGV[5])
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local first = ARGV[2]
if oldest[2] then
  first = oldest[2]
end
return {allowed, count, first}`)

// SlidingWindow counts hits in a Redis sorted set scored by millisecond timestamps.
type SlidingWindow struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// Allow implements Limiter.
func (l SlidingWindow) Allow(ctx context.Context, key string, rate Rate) (Decision, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if l.Client == nil || rate.disabled() {
		return unlimited(rate, now), nil
	}

	nowMS := now.UnixMilli()
	res, err := slidingScript.Run(ctx, l.Client, []string{l.Prefix + key},
		nowMS-rate.Window.Milliseconds(),
		nowMS,
		rate.Max,
		uuid.NewString(),
		rate.Window.Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("sliding window %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("sliding window %s: unexpected reply %v", key, res)
	}
	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	oldestMS := nowMS
	if v, err := strconv.ParseFloat(fmt.Sprint(res[2]), 64); err == nil {
		oldestMS = int64(v)
	}
	return Decision{
		Allowed:   allowed == 1,
		Limit:     rate.Max,
		Remaining: max(rate.Max-int(count), 0),
		ResetAt:   time.UnixMilli(oldestMS).Add(rate.Window),
	}, nil
}
