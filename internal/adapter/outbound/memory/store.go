// Package memory provides in-process adapters used by local development and
// tests in place of Redis and the external event channel.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pledgeflow/payments/internal/port/outbound"
)

// DefaultStoreSize bounds the number of remembered keys.
const DefaultStoreSize = 100_000

type entry struct {
	value     []byte
	expiresAt time.Time
}

type heldLock struct {
	token     string
	expiresAt time.Time
}

// IdempotencyStore implements outbound.IdempotencyStorePort in memory.
// Least recently used keys are evicted once the store is full.
type IdempotencyStore struct {
	values *lru.Cache[string, entry]

	mu    sync.Mutex
	locks map[string]heldLock

	now func() time.Time
}

// NewIdempotencyStore creates a store holding at most size keys.
func NewIdempotencyStore(size int) *IdempotencyStore {
	if size <= 0 {
		size = DefaultStoreSize
	}
	values, _ := lru.New[string, entry](size)
	return &IdempotencyStore{
		values: values,
		locks:  make(map[string]heldLock),
		now:    time.Now,
	}
}

func (s *IdempotencyStore) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := s.values.Get(key)
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.values.Remove(key)
		return nil, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *IdempotencyStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.values.Add(key, e)
	return nil
}

func (s *IdempotencyStore) Delete(_ context.Context, key string) error {
	s.values.Remove(key)
	return nil
}

func (s *IdempotencyStore) AcquireLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if l, held := s.locks[key]; held && now.Before(l.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	s.locks[key] = heldLock{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (s *IdempotencyStore) ReleaseLock(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A holder whose lease expired must not release its successor's lock.
	if l, held := s.locks[key]; held && l.token == token {
		delete(s.locks, key)
	}
	return nil
}

// Compile-time check
var _ outbound.IdempotencyStorePort = (*IdempotencyStore)(nil)
