// Package ratelimit caps how often one actor may trigger judge runs.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"weldon/internal/common/cache"
	pkgerrors "weldon/pkg/errors"
)

// Limiter decides whether an action keyed by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// Noop allows everything.
type Noop struct{}

// Allow implements Limiter.
func (Noop) Allow(context.Context, string) error { return nil }

// Config configures a fixed-window limiter.
type Config struct {
	Prefix       string
	Max          int
	Window       time.Duration
	StoreTimeout time.Duration
}

// FixedWindow enforces fixed-window limits on a cache store.
type FixedWindow struct {
	store        cache.CounterOps
	prefix       string
	max          int
	window       time.Duration
	storeTimeout time.Duration
}

// NewFixedWindow validates cfg.
func NewFixedWindow(store cache.CounterOps, cfg Config) (*FixedWindow, error) {
	if store == nil {
		return nil, fmt.Errorf("rate limit store is required")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive")
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 500 * time.Millisecond
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "weldon:rl:"
	}
	return &FixedWindow{
		store:        store,
		prefix:       cfg.Prefix,
		max:          cfg.Max,
		window:       cfg.Window,
		storeTimeout: cfg.StoreTimeout,
	}, nil
}

// Allow counts one hit for key and fails once the window's budget is spent.
// A non-positive Max disables the limit.
func (l *FixedWindow) Allow(ctx context.Context, key string) error {
	if l.max <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	k := l.prefix + key
	acquired, err := l.store.SetNX(ctx, k, 1, l.window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed: %v", err)
	}
	count := int64(1)
	if !acquired {
		count, err = l.store.Incr(ctx, k)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed: %v", err)
		}
		if ttl, ttlErr := l.store.TTL(ctx, k); ttlErr == nil && ttl <= 0 {
			_ = l.store.Expire(ctx, k, l.window)
		}
	}
	if int(count) > l.max {
		return pkgerrors.Newf(pkgerrors.TooManyRequests,
			"Too many requests: at most %d per %s", l.max, l.window)
	}
	return nil
}
