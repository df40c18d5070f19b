package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// FixedWindow counts hits per calendar window through ulule/limiter.
type FixedWindow struct {
	Store limiter.Store
}

// NewRedisFixedWindow builds a fixed window limiter whose counters live in Redis.
func NewRedisFixedWindow(client *redis.Client, prefix string) (FixedWindow, error) {
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return FixedWindow{}, err
	}
	return FixedWindow{Store: store}, nil
}

// Allow implements Limiter.
func (f FixedWindow) Allow(ctx context.Context, key string, rate Rate) (Decision, error) {
	if f.Store == nil || rate.disabled() {
		return unlimited(rate, time.Now()), nil
	}
	res, err := limiter.New(f.Store, limiter.Rate{Period: rate.Window, Limit: int64(rate.Max)}).Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !res.Reached,
		Limit:     int(res.Limit),
		Remaining: int(res.Remaining),
		ResetAt:   time.Unix(res.Reset, 0),
	}, nil
}
