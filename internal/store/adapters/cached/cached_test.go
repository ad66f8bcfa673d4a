package cached

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/aether/internal/cache"
	"github.com/dropDatabas3/aether/internal/store"
	"github.com/dropDatabas3/aether/internal/store/adapters/memory"
	"github.com/dropDatabas3/aether/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		return New(memory.New(), cache.NewMemory("", 0), time.Minute)
	})
}

// countingBackend cuenta lecturas que llegan al backend real.
type countingBackend struct {
	store.Backend
	gets atomic.Int64
}

func (c *countingBackend) GetLatest(ctx context.Context, name string) (*store.ConfigEntry, error) {
	c.gets.Add(1)
	time.Sleep(10 * time.Millisecond)
	return c.Backend.GetLatest(ctx, name)
}

func TestLatestServedFromCacheAndInvalidated(t *testing.T) {
	ctx := context.Background()
	inner := &countingBackend{Backend: memory.New()}
	b := New(inner, cache.NewMemory("", 0), time.Minute)

	require.NoError(t, b.CompareAndSetLatest(ctx, "x", 0, storetest.Entry("x", 1, `{"v":1}`)))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := b.GetLatest(ctx, "x")
			assert.NoError(t, err)
			assert.Equal(t, uint64(1), e.Version)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), inner.gets.Load(), "concurrent misses collapse into one fetch")

	_, err := b.GetLatest(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.gets.Load())

	require.NoError(t, b.CompareAndSetLatest(ctx, "x", 1, storetest.Entry("x", 2, `{"v":2}`)))
	e, err := b.GetLatest(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Version)
	assert.Equal(t, int64(2), inner.gets.Load())
}

func TestNotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	b := New(memory.New(), cache.NewMemory("", 0), time.Minute)
	_, err := b.GetLatest(ctx, "x")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, b.CompareAndSetLatest(ctx, "x", 0, storetest.Entry("x", 1, `{}`)))
	e, err := b.GetLatest(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Version)
}
