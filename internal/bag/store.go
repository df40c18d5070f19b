package bag

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "bag:"

// Store persists bag state as JSON in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore constructs a Redis-backed bag store. Every save refreshes the TTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

func stateKey(bagID string) string {
	return keyPrefix + bagID
}

func lockKey(bagID string) string {
	return "lock:" + keyPrefix + bagID
}

// Load returns the stored bag or ErrNotFound.
func (s *Store) Load(ctx context.Context, bagID string) (State, error) {
	if s == nil || s.client == nil {
		return State{}, errors.New("bag store not configured")
	}
	if bagID == "" {
		return State{}, ErrNotFound
	}
	data, err := s.client.Get(ctx, stateKey(bagID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, ErrNotFound
		}
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Save serialises the bag and stores it with the configured TTL.
func (s *Store) Save(ctx context.Context, st State) error {
	if s == nil || s.client == nil {
		return errors.New("bag store not configured")
	}
	if st.BagID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, stateKey(st.BagID), data, s.ttl).Err()
}

// Ping reports whether the underlying Redis connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("bag store not configured")
	}
	return s.client.Ping(ctx).Err()
}
