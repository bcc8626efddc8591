package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"github.com/redis/go-redis/v9"
)

const idempotencyKeyPrefix = "pledgeflow:"

// idempotencyStore implements outbound.IdempotencyStorePort.
// Values are plain keys with TTL; locks are redislock locks kept in
// process by key and token so only the holder can release them.
type idempotencyStore struct {
	client redis.UniversalClient
	locker *redislock.Client
	held   sync.Map // heldKey(key, token) -> *redislock.Lock
}

func heldKey(key, token string) string {
	return key + "\x00" + token
}

// NewIdempotencyStore creates a new Redis-backed idempotency store.
func NewIdempotencyStore(client redis.UniversalClient) outbound.IdempotencyStorePort {
	return &idempotencyStore{
		client: client,
		locker: redislock.New(client),
	}
}

func (s *idempotencyStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, idempotencyKeyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (s *idempotencyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, idempotencyKeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *idempotencyStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

func (s *idempotencyStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	lock, err := s.locker.Obtain(ctx, idempotencyKeyPrefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("obtain lock: %w", err)
	}
	token := lock.Token()
	s.held.Store(heldKey(key, token), lock)
	return token, true, nil
}

func (s *idempotencyStore) ReleaseLock(ctx context.Context, key, token string) error {
	v, ok := s.held.LoadAndDelete(heldKey(key, token))
	if !ok {
		return nil
	}
	// Release is a compare-and-delete on the token, so an expired lease
	// that another holder took over is left alone.
	err := v.(*redislock.Lock).Release(ctx)
	if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Compile-time check
var _ outbound.IdempotencyStorePort = (*idempotencyStore)(nil)
