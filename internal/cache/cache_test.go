package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClient(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, Config{Driver: "memory", Prefix: "t"})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(ctx, "missing")
	assert.True(t, IsNotFound(err))

	buf := []byte("v1")
	require.NoError(t, c.Set(ctx, "k", buf, 0))
	buf[0] = 'X' // el cache guarda su propia copia

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	require.NoError(t, c.Delete(ctx, "k", "nope"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", st.Driver)
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(2), st.Misses)
}

func TestMemoryClientTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("", 10*time.Millisecond)
	require.NoError(t, c.Set(ctx, "k", []byte("v"), 20*time.Millisecond))

	require.Eventually(t, func() bool {
		_, err := c.Get(ctx, "k")
		return IsNotFound(err)
	}, time.Second, 5*time.Millisecond)
}

func TestNewUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "memcached"})
	assert.Error(t, err)
}
