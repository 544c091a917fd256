package guard

import (
	"context"
	"io/ioutil"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/subscription"
	"github.com/trezcool/elimu/services/logger"
)

func testGuard(t *testing.T, g subscription.Guard) {
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("lock", func(t *testing.T) {
		unlock, err := g.Lock(ctx, time.Minute)
		require.NoError(t, err)

		_, err = g.Lock(ctx, time.Minute)
		assert.Equal(t, subscription.ErrScanInProgress, err)

		unlock()
		unlock2, err := g.Lock(ctx, time.Minute)
		require.NoError(t, err)
		unlock2()
	})

	t.Run("mark notified", func(t *testing.T) {
		first, err := g.MarkNotified(ctx, "sub-1", 3, now)
		require.NoError(t, err)
		assert.True(t, first)

		again, err := g.MarkNotified(ctx, "sub-1", 3, now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.False(t, again)

		other, err := g.MarkNotified(ctx, "sub-1", 1, now)
		require.NoError(t, err)
		assert.True(t, other)
	})
}

func TestMemoryGuard(t *testing.T) {
	g := NewMemoryGuard()
	testGuard(t, g)

	t.Run("lock expires", func(t *testing.T) {
		_, err := g.Lock(context.Background(), time.Minute)
		require.NoError(t, err)
		g.nowFunc = func() time.Time { return time.Now().Add(2 * time.Minute) }
		defer func() { g.nowFunc = time.Now }()

		unlock, err := g.Lock(context.Background(), time.Minute)
		require.NoError(t, err)
		unlock()
	})

	t.Run("markers reset the next day", func(t *testing.T) {
		day := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
		first, err := g.MarkNotified(context.Background(), "sub-1", 3, day)
		require.NoError(t, err)
		assert.True(t, first)
	})
}

// Runs against a live server when ELIMU_TEST_REDIS_ADDRESS is set.
func TestRedisGuard(t *testing.T) {
	addr := os.Getenv("ELIMU_TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("ELIMU_TEST_REDIS_ADDRESS not set")
	}
	conf := core.NewTestConfig()
	conf.Redis.Address = addr
	client := NewRedisClient(conf)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())
	keys, err := client.Keys(ctx, "elimu:subscriptions:*").Result()
	require.NoError(t, err)
	if len(keys) > 0 {
		require.NoError(t, client.Del(ctx, keys...).Err())
	}

	testGuard(t, NewRedisGuard(client, newLogger()))
}

func newLogger() core.Logger {
	return logsvc.NewRollbarLogger(log.New(ioutil.Discard, "", 0), core.NewTestConfig())
}
