package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStore_GetSetDelete(t *testing.T) {
	s := NewIdempotencyStore(10)
	ctx := context.Background()

	v, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	v, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, s.Delete(ctx, "k"))
	v, _ = s.Get(ctx, "k")
	assert.Nil(t, v)
}

func TestIdempotencyStore_Expiry(t *testing.T) {
	s := NewIdempotencyStore(10)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Second))
	now = now.Add(2 * time.Second)

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestIdempotencyStore_Eviction(t *testing.T) {
	s := NewIdempotencyStore(2)
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"), 0)
	_ = s.Set(ctx, "b", []byte("2"), 0)
	_ = s.Set(ctx, "c", []byte("3"), 0)

	v, _ := s.Get(ctx, "a")
	assert.Nil(t, v)
	v, _ = s.Get(ctx, "c")
	assert.Equal(t, []byte("3"), v)
}

func TestIdempotencyStore_Lock(t *testing.T) {
	s := NewIdempotencyStore(10)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, ok, err := s.AcquireLock(ctx, "lock:k", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, _ = s.AcquireLock(ctx, "lock:k", 30*time.Second)
	assert.False(t, ok)

	now = now.Add(31 * time.Second)
	second, ok, _ := s.AcquireLock(ctx, "lock:k", 30*time.Second)
	assert.True(t, ok, "expired lock can be taken over")

	require.NoError(t, s.ReleaseLock(ctx, "lock:k", second))
	_, ok, _ = s.AcquireLock(ctx, "lock:k", 30*time.Second)
	assert.True(t, ok)
}

func TestIdempotencyStore_ReleaseOnlyByHolder(t *testing.T) {
	s := NewIdempotencyStore(10)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	stale, ok, _ := s.AcquireLock(ctx, "lock:k", 20*time.Millisecond)
	require.True(t, ok)

	now = now.Add(30 * time.Millisecond)
	current, ok, _ := s.AcquireLock(ctx, "lock:k", 20*time.Millisecond)
	require.True(t, ok)

	require.NoError(t, s.ReleaseLock(ctx, "lock:k", stale))
	_, ok, _ = s.AcquireLock(ctx, "lock:k", 20*time.Millisecond)
	assert.False(t, ok, "stale token released the current holder's lock")

	require.NoError(t, s.ReleaseLock(ctx, "lock:k", current))
	_, ok, _ = s.AcquireLock(ctx, "lock:k", 20*time.Millisecond)
	assert.True(t, ok)
}
