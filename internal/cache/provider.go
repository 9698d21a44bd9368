// Package cache provides the analysis result cache: a byte-oriented
// Provider contract with two backends (in-process memory, Valkey/Redis)
// and a stampede-safe cache-aside loader built on top of them.
package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the cache operations the loader builds on. SetNX is the
// atomic conditional-acquire primitive backing the stampede lock token.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	// DelPattern removes every key matching the glob pattern and reports
	// how many were removed, without blocking unrelated keys.
	DelPattern(ctx context.Context, pattern string) (int, error)
	Close() error
}

// ErrCacheMiss signals that a cache key was not found or had expired.
var ErrCacheMiss = errors.New("cache miss")
