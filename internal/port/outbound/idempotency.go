package outbound

import (
	"context"
	"time"
)

// IdempotencyStorePort is the key/TTL store behind the idempotency service.
type IdempotencyStorePort interface {
	// Get returns the stored value, or nil, nil when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// AcquireLock tries once to take the lock for key. On success it
	// returns the holder's token. It reports false without error when
	// another holder owns the lock.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)

	// ReleaseLock releases the lock on key only if token still owns it.
	// Releasing an expired or taken-over lock is a no-op.
	ReleaseLock(ctx context.Context, key, token string) error
}
