package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLock(t *testing.T) (*RunLock, *miniredis.Miniredis) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, time.Hour), mini
}

func TestAcquireIsExclusivePerPipeline(t *testing.T) {
	ctx := context.Background()
	l, _ := newLock(t)

	require.NoError(t, l.Acquire(ctx, "orders", 1))
	require.NoError(t, l.Acquire(ctx, "orders", 1))
	assert.ErrorIs(t, l.Acquire(ctx, "orders", 2), ErrHeld)
	require.NoError(t, l.Acquire(ctx, "customers", 2))

	owner, err := l.Owner(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, uint(1), owner)
}

func TestReleaseOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	l, _ := newLock(t)

	require.NoError(t, l.Acquire(ctx, "orders", 1))
	require.NoError(t, l.Release(ctx, "orders", 2))
	assert.ErrorIs(t, l.Acquire(ctx, "orders", 2), ErrHeld)

	require.NoError(t, l.Release(ctx, "orders", 1))
	require.NoError(t, l.Acquire(ctx, "orders", 2))

	owner, err := l.Owner(ctx, "nothing")
	require.NoError(t, err)
	assert.Zero(t, owner)
}

func TestLeaseExpires(t *testing.T) {
	ctx := context.Background()
	l, mini := newLock(t)

	require.NoError(t, l.Acquire(ctx, "orders", 1))
	mini.FastForward(2 * time.Hour)
	require.NoError(t, l.Acquire(ctx, "orders", 2))
}
