package rate

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	l := NewMemoryLimiter(2, time.Minute)
	base := time.Date(2024, 1, 1, 10, 0, 10, 0, time.UTC)
	l.now = func() time.Time { return base }
	ctx := context.Background()

	r, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.EqualValues(t, 1, r.Remaining)

	r, _ = l.Allow(ctx, "1.2.3.4")
	assert.True(t, r.Allowed)
	r, _ = l.Allow(ctx, "1.2.3.4")
	assert.False(t, r.Allowed)
	assert.EqualValues(t, 0, r.Remaining)
	assert.Equal(t, 50*time.Second, r.RetryAfter)

	// otra key no comparte ventana
	r, _ = l.Allow(ctx, "5.6.7.8")
	assert.True(t, r.Allowed)

	// nueva ventana
	l.now = func() time.Time { return base.Add(time.Minute) }
	r, _ = l.Allow(ctx, "1.2.3.4")
	assert.True(t, r.Allowed)
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("AETHER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AETHER_TEST_REDIS_ADDR not set")
	}
	client := rdb.NewClient(&rdb.Options{Addr: addr})
	defer client.Close()

	l := NewRedisLimiter(client, "aether:test:rl:"+uuid.NewString()+":", 1, time.Minute)
	ctx := context.Background()
	r, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	r, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Greater(t, r.RetryAfter, time.Duration(0))
}
