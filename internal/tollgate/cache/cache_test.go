package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/tollgate/pkg/clockx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type profile struct {
	Name  string
	Roles []string
}

func newRedis(t *testing.T, ttl time.Duration) (*Redis[profile], *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedis[profile](client, "test:", ttl), mr
}

// Both backends must satisfy the same contract.
func TestBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) Cache[profile]{
		"memory": func(t *testing.T) Cache[profile] { return NewMemory[profile](time.Minute) },
		"redis": func(t *testing.T) Cache[profile] {
			c, _ := newRedis(t, time.Minute)
			return c
		},
	}

	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := build(t)

			_, ok, err := c.Get(ctx, "alice")
			require.NoError(t, err)
			require.False(t, ok)

			want := profile{Name: "Alice", Roles: []string{"admin"}}
			require.NoError(t, c.Set(ctx, "alice", want))

			got, ok, err := c.Get(ctx, "alice")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, want, got)

			require.NoError(t, c.Delete(ctx, "alice"))
			_, ok, err = c.Get(ctx, "alice")
			require.NoError(t, err)
			require.False(t, ok)

			var loads atomic.Int32
			load := func(context.Context) (profile, error) {
				loads.Add(1)
				return profile{Name: "Bob"}, nil
			}
			for i := 0; i < 3; i++ {
				got, err := c.GetOrLoad(ctx, "bob", load)
				require.NoError(t, err)
				require.Equal(t, "Bob", got.Name)
			}
			require.EqualValues(t, 1, loads.Load())

			boom := errors.New("boom")
			_, err = c.GetOrLoad(ctx, "carol", func(context.Context) (profile, error) { return profile{}, boom })
			require.ErrorIs(t, err, boom)
			_, ok, _ = c.Get(ctx, "carol")
			require.False(t, ok)
		})
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	clock := clockx.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewMemory[string](time.Minute, WithClock(clock))

	require.NoError(t, c.Set(ctx, "k", "v"))

	clock.Advance(time.Minute)
	_, ok, _ := c.Get(ctx, "k")
	require.True(t, ok)

	clock.Advance(time.Second)
	_, ok, _ = c.Get(ctx, "k")
	require.False(t, ok)
}

func TestMemoryBoundsEntries(t *testing.T) {
	ctx := context.Background()
	clock := clockx.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewMemory[int](time.Minute, WithClock(clock), WithMaxEntries(2))

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "b", 2))
	clock.Advance(2 * time.Minute)

	// Both are expired, so they make room
	require.NoError(t, c.Set(ctx, "c", 3))
	require.Equal(t, 1, c.Len())

	require.NoError(t, c.Set(ctx, "d", 4))
	require.NoError(t, c.Set(ctx, "e", 5))
	require.LessOrEqual(t, c.Len(), 2)
}

func TestMemoryGetOrLoadCollapsesConcurrentMisses(t *testing.T) {
	c := NewMemory[int](time.Minute)

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		loads.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrLoad(context.Background(), "answer", load)
		}(i)
	}

	// Give the goroutines a moment to pile up on the same key
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, v := range results {
		require.NoError(t, errs[i])
		require.Equal(t, 42, v)
	}
	require.LessOrEqual(t, loads.Load(), int32(2))
}

func TestRedisTTLAndOutage(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedis(t, time.Minute)

	require.NoError(t, c.Set(ctx, "alice", profile{Name: "Alice"}))
	require.True(t, mr.Exists("test:alice"))
	require.Equal(t, time.Minute, mr.TTL("test:alice"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := c.Get(ctx, "alice")
	require.NoError(t, err)
	require.False(t, ok)

	// Undecodable values count as a miss
	require.NoError(t, mr.Set("test:broken", "{not json"))
	_, ok, err = c.Get(ctx, "broken")
	require.NoError(t, err)
	require.False(t, ok)

	// With Redis down, reads report unavailability but GetOrLoad still loads
	mr.Close()
	_, _, err = c.Get(ctx, "alice")
	require.ErrorIs(t, err, ErrUnavailable)

	got, err := c.GetOrLoad(ctx, "alice", func(context.Context) (profile, error) {
		return profile{Name: "from-store"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "from-store", got.Name)
}
