// Package cache provides a small read-through cache abstraction with an
// in-process backend and a Redis backend.
package cache

import (
	"context"
	"errors"
)

var ErrUnavailable = errors.New("cache: backend unavailable")

// Cache stores values of type V under string keys with a fixed TTL.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, v V) error
	Delete(ctx context.Context, key string) error

	// GetOrLoad returns the cached value or calls load on a miss and caches
	// its result. Concurrent misses for the same key share one load.
	GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error)
}
