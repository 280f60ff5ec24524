package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Redis stores JSON encoded values with SET EX.
type Redis[V any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

func NewRedis[V any](client *redis.Client, prefix string, ttl time.Duration) *Redis[V] {
	return &Redis[V]{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis[V]) key(k string) string {
	return r.prefix + k
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var v V

	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return v, false, nil
		}
		return v, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		// A value we cannot decode is as good as a miss
		return v, false, nil
	}
	return v, true, nil
}

func (r *Redis[V]) Set(ctx context.Context, key string, v V) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	if err := r.client.Set(ctx, r.key(key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis[V]) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetOrLoad falls through to load when Redis is unreachable, so the cache
// never turns into a hard dependency.
func (r *Redis[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok, err := r.Get(ctx, key); err == nil && ok {
		return v, nil
	}

	res, err, _ := r.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		_ = r.Set(ctx, key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}
