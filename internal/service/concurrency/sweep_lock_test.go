package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestSweepLockExcludesSecondHolder(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	first := NewSweepLock(client, "test:sweep", time.Minute)
	second := NewSweepLock(client, "test:sweep", time.Minute)

	release, ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok, "second holder must not acquire a held lock")

	require.NoError(t, release(ctx))

	release2, ok, err := second.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, release2(ctx))
}

func TestSweepLockReleaseKeepsForeignToken(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()

	lock := NewSweepLock(client, "test:sweep", time.Second)
	release, ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// TTL lapses and another process takes over.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("test:sweep", "someone-else"))

	require.NoError(t, release(ctx))
	val, err := mr.Get("test:sweep")
	require.NoError(t, err)
	require.Equal(t, "someone-else", val)
}

func TestSweepLockExpires(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()

	lock := NewSweepLock(client, "test:sweep", time.Second)
	_, ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNopLockAlwaysGrants(t *testing.T) {
	release, ok, err := NopLock{}.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, release(context.Background()))
}
