// Package lock provides short Redis leases used to serialise bag mutations.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrNotAcquired is returned by TryAcquire when another holder owns the key.
	ErrNotAcquired = errors.New("lock: held by another owner")
	// ErrNotHeld is returned by Release when the lease expired or was taken over.
	ErrNotHeld = errors.New("lock: lease no longer held")
)

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 50 * time.Millisecond
)

// compare-and-delete so a holder never frees a lease it lost to expiry.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out leases keyed by Redis key.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// Lease is a held lock. It expires on its own after the TTL.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Key returns the locked Redis key.
func (l *Lease) Key() string { return l.key }

// TryAcquire makes a single attempt to take key.
func (l Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l.R == nil {
		return nil, errors.New("lock: redis client not configured")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	token := uuid.NewString()
	ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lease{client: l.R, key: key, token: token}, nil
}

// Acquire polls every RetryBackoff until key is free or ctx ends.
func (l Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	wait := l.RetryBackoff
	if wait <= 0 {
		wait = defaultRetry
	}
	ticker := time.NewTicker(wait)
	defer ticker.Stop()
	for {
		lease, err := l.TryAcquire(ctx, key, ttl)
		if !errors.Is(err, ErrNotAcquired) {
			return lease, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release frees the lease if it is still held by this owner.
func (l *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// WithLock runs fn while holding key. The lease is released after fn returns,
// even when ctx has been cancelled.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("lock_key", key).Msg("release lock")
		}
	}()
	return fn(ctx)
}
