package idx_test

import (
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tollgate/pkg/clockx"
	"github.com/aussiebroadwan/tollgate/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	id := idx.New()
	require.NotEmpty(t, id.String())

	parsed, err := idx.Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
	require.False(t, id.IsZero())
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "   ", "not-a-ulid", "01HQ7T3Z1MZ0JQ3M6MZQ1FQ3Z"} {
		_, err := idx.Parse(s)
		require.ErrorIs(t, err, idx.ErrInvalid, s)
	}
}

func TestOrdering(t *testing.T) {
	a := idx.NewAt(time.Unix(1, 0).UTC())
	b := idx.NewAt(time.Unix(2, 0).UTC())

	// I always get the sign of these the wrong way around
	require.Equal(t, -1, idx.Compare(a, b))
	require.Equal(t, 1, idx.Compare(b, a))
	require.Equal(t, 0, idx.Compare(a, a))
}

func TestGeneratorUsesClock(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockx.NewFake(start)
	gen := idx.NewGenerator(clock)

	first := gen.New()
	require.WithinDuration(t, start, first.Time(), time.Millisecond)

	// Same millisecond still has to sort after the previous id
	second := gen.New()
	require.Equal(t, -1, idx.Compare(first, second))

	clock.Advance(time.Hour)
	third := gen.New()
	require.WithinDuration(t, start.Add(time.Hour), third.Time(), time.Millisecond)
	require.Equal(t, -1, idx.Compare(second, third))
}

func TestGeneratorConcurrentUnique(t *testing.T) {
	gen := idx.NewGenerator(clockx.NewFake(time.Unix(1700000000, 0)))

	var (
		mu   sync.Mutex
		seen = make(map[idx.ID]struct{})
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				id := gen.New()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 800)
}

func TestMustParse(t *testing.T) {
	require.NotPanics(t, func() { idx.MustParse("01HQ7T3Z1MZ0JQ3M6MZQ1FQ3ZV") })
	require.Panics(t, func() { idx.MustParse("nope") })
}
