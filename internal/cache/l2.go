package cache

import (
	"context"
	"time"
)

// L2 is the shared, inter-process tier: a TTL'd key-value mapping plus an
// atomic increment-and-check primitive used for rate limiting. Failure of L2
// must never block writes; callers degrade to L1-only and the store.
type L2 interface {
	// Get returns the raw value, or ok=false on miss or expiry.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value with an absolute TTL, replacing any existing entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes zero or more keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Incr atomically increments a counter and returns its new value. On the
	// first increment for a key (or after expiry) the counter starts at 1 and
	// ttl governs the window's lifetime.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Close() error
}
