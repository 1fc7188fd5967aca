package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type payload struct {
	Name  string   `json:"name"`
	Terms []string `json:"terms"`
}

func newTestStore(t *testing.T, clock *fakeClock, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RoundTripAndExpiry(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	want := payload{Name: "os-notes", Terms: []string{"process", "thread"}}
	require.NoError(t, s.Store(ctx, "k1", want, time.Hour))

	res, ok, err := s.Lookup(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	var got payload
	require.NoError(t, res.Decode(&got))
	assert.Equal(t, want, got)
	assert.Equal(t, int64(1), res.AccessCount)

	clock.Advance(59 * time.Minute)
	_, ok, err = s.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok, err = s.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "entry must not be returned at or past expiresAt")

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Entries, "expired entry removed lazily")
	assert.Equal(t, int64(1), st.Expirations)
}

func TestStore_LookupTracksAccess(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "k", payload{Name: "x"}, 0))
	for i := 1; i <= 3; i++ {
		clock.Advance(time.Second)
		res, ok, err := s.Lookup(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(i), res.AccessCount)
		assert.Equal(t, clock.Now(), res.LastAccessedAt)
	}
}

func TestStore_EvictLRU_OldestAccessFirst(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	for _, k := range []string{"A", "B", "C"} {
		require.NoError(t, s.Store(ctx, k, payload{Name: k}, time.Hour))
	}
	// Access order A, B, C (oldest to newest).
	for _, k := range []string{"A", "B", "C"} {
		clock.Advance(time.Second)
		_, ok, err := s.Lookup(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
	}

	st, err := s.Stats(ctx)
	require.NoError(t, err)

	n, err := s.EvictLRU(ctx, st.SizeBytes-1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, _ := s.Lookup(ctx, "A")
	assert.False(t, ok)
	_, ok, _ = s.Lookup(ctx, "B")
	assert.True(t, ok)
	_, ok, _ = s.Lookup(ctx, "C")
	assert.True(t, ok)
}

func TestStore_EvictLRU_AccessReordersVictims(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	for _, k := range []string{"A", "B", "C"} {
		clock.Advance(time.Second)
		require.NoError(t, s.Store(ctx, k, payload{Name: k}, time.Hour))
	}
	clock.Advance(time.Second)
	_, _, _ = s.Lookup(ctx, "A")

	st, _ := s.Stats(ctx)
	_, err := s.EvictLRU(ctx, st.SizeBytes-1)
	require.NoError(t, err)

	_, ok, _ := s.Lookup(ctx, "A")
	assert.True(t, ok)
	_, ok, _ = s.Lookup(ctx, "B")
	assert.False(t, ok)
}

func TestStore_EvictLRU_UnderTargetIsNoop(t *testing.T) {
	s := newTestStore(t, newFakeClock())
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, "k", payload{Name: "k"}, 0))

	n, err := s.EvictLRU(ctx, 1<<30)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_MaxSizeTriggersEviction(t *testing.T) {
	clock := newFakeClock()
	probe := newTestStore(t, clock)
	ctx := context.Background()
	require.NoError(t, probe.Store(ctx, "probe", payload{Name: "A"}, 0))
	st, _ := probe.Stats(ctx)

	s := newTestStore(t, clock, WithMaxSize(st.SizeBytes*2))
	for _, k := range []string{"A", "B", "C"} {
		clock.Advance(time.Second)
		require.NoError(t, s.Store(ctx, k, payload{Name: k}, 0))
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.SizeBytes, st.SizeBytes*2)
	assert.Equal(t, int64(1), stats.Evictions)
	_, ok, _ := s.Lookup(ctx, "A")
	assert.False(t, ok)
}

func TestStore_CleanupExpired(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "short", payload{}, time.Minute))
	require.NoError(t, s.Store(ctx, "long", payload{}, 48*time.Hour))
	clock.Advance(2 * time.Hour)
	require.NoError(t, s.Store(ctx, "fresh", payload{}, 48*time.Hour))

	n, err := s.CleanupExpired(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CleanupExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "long is older than max age")

	_, ok, _ := s.Lookup(ctx, "fresh")
	assert.True(t, ok)
}

func TestStore_Compresses(t *testing.T) {
	s := newTestStore(t, newFakeClock())
	ctx := context.Background()

	big := payload{Name: strings.Repeat("concept graph ", 500)}
	require.NoError(t, s.Store(ctx, "big", big, 0))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Less(t, st.SizeBytes, st.OriginalBytes)
	assert.Greater(t, st.CompressionRatio, 1.0)
}

func TestStore_Concurrent(t *testing.T) {
	s := newTestStore(t, newFakeClock(), WithMaxSize(4096))
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("k%d", (w*50+i)%20)
				_ = s.Store(ctx, key, payload{Name: key}, 0)
				_, _, _ = s.Lookup(ctx, key)
			}
		}(w)
	}
	wg.Wait()

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, st.SizeBytes, int64(4096))
	assert.Equal(t, int64(400), st.Hits+st.Misses)
}

func TestSQLiteTier_PersistsAcrossStores(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "cache.db")

	tier, err := NewSQLiteTier(ctx, dsn)
	require.NoError(t, err)
	first, err := New(WithClock(clock.Now), WithTier(tier))
	require.NoError(t, err)

	want := payload{Name: "persisted", Terms: []string{"kernel"}}
	require.NoError(t, first.Store(ctx, "k", want, time.Hour))
	require.NoError(t, first.Close())

	tier2, err := NewSQLiteTier(ctx, dsn)
	require.NoError(t, err)
	second := newTestStore(t, clock, WithTier(tier2))

	clock.Advance(time.Minute)
	res, ok, err := second.Lookup(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	var got payload
	require.NoError(t, res.Decode(&got))
	assert.Equal(t, want, got)

	listed, err := tier2.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, int64(1), listed[0].AccessCount)
	assert.Equal(t, clock.Now(), listed[0].LastAccessedAt)

	clock.Advance(2 * time.Hour)
	_, ok, err = second.Lookup(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	listed, err = tier2.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestSQLiteTier_GetMissing(t *testing.T) {
	tier, err := NewSQLiteTier(context.Background(), filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	defer tier.Close() //nolint:errcheck

	e, err := tier.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, e)
}
