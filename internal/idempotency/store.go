package idempotency

import (
	"context"
	"time"
)

// Store is a key/value store with TTL used to suppress duplicate message
// processing inside the idempotency window. TTL expiry precision is
// store-defined; callers must not assume exact seconds.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
}
