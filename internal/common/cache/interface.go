// Package cache wraps the key-value store used for short-lived counters.
package cache

import (
	"context"
	"time"
)

// CounterOps is the subset of cache operations fixed-window counters need.
type CounterOps interface {
	// SetNX sets key only when absent and reports whether it did.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	// Incr increments key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a TTL on key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining lifetime of key.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Store is a CounterOps backed by a remote server.
type Store interface {
	CounterOps
	Ping(ctx context.Context) error
	Close() error
}
