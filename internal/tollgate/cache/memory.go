package cache

import (
	"context"
	"sync"
	"time"

	"github.com/aussiebroadwan/tollgate/pkg/clockx"
	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Memory is an in-process TTL cache. Expired entries are dropped lazily on
// read and in bulk once the map grows past maxEntries.
type Memory[V any] struct {
	ttl        time.Duration
	clock      clockx.Clock
	maxEntries int

	mu      sync.RWMutex
	entries map[string]entry[V]
	group   singleflight.Group
}

type memoryConfig struct {
	clock      clockx.Clock
	maxEntries int
}

type MemoryOption func(*memoryConfig)

func WithClock(c clockx.Clock) MemoryOption {
	return func(cfg *memoryConfig) { cfg.clock = c }
}

func WithMaxEntries(n int) MemoryOption {
	return func(cfg *memoryConfig) { cfg.maxEntries = n }
}

func NewMemory[V any](ttl time.Duration, opts ...MemoryOption) *Memory[V] {
	cfg := memoryConfig{clock: clockx.System(), maxEntries: 10000}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxEntries <= 0 {
		cfg.maxEntries = 1
	}

	return &Memory[V]{
		ttl:        ttl,
		clock:      cfg.clock,
		maxEntries: cfg.maxEntries,
		entries:    make(map[string]entry[V]),
	}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || m.clock.Now().After(e.expiresAt) {
		var zero V
		return zero, false, nil
	}
	return e.value, true, nil
}

func (m *Memory[V]) Set(_ context.Context, key string, v V) error {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= m.maxEntries {
		m.evictExpiredLocked(now)
	}
	m.entries[key] = entry[V]{value: v, expiresAt: now.Add(m.ttl)}
	return nil
}

func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok, _ := m.Get(ctx, key); ok {
		return v, nil
	}

	res, err, _ := m.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		_ = m.Set(ctx, key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}

// Len reports the number of stored entries, expired or not.
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory[V]) evictExpiredLocked(now time.Time) {
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}

	// Still full of live entries: drop an arbitrary one
	if len(m.entries) >= m.maxEntries {
		for k := range m.entries {
			delete(m.entries, k)
			break
		}
	}
}
