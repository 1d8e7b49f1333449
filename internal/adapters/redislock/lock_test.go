package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client), mr
}

func TestTryAcquire_SingleOwner(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	release, acquired, err := locker.TryAcquire(ctx, "billing:prebill:2024-03-16", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	defer release()

	// Second acquire on the same key must fail without blocking
	_, acquired2, err := locker.TryAcquire(ctx, "billing:prebill:2024-03-16", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired2)

	// Different key is independent
	release3, acquired3, err := locker.TryAcquire(ctx, "billing:cutoff:2024-03-16", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired3)
	release3()
}

func TestRelease_FreesTheLock(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	release, acquired, err := locker.TryAcquire(ctx, "billing:prebill:2024-03-16", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	release()
	// Idempotent: releasing twice is safe
	release()

	_, acquired2, err := locker.TryAcquire(ctx, "billing:prebill:2024-03-16", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired2)
}

func TestRelease_DoesNotDropAnotherOwnersLease(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	release1, acquired, err := locker.TryAcquire(ctx, "billing:prebill:2024-03-16", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// Lease expires while the first owner is still running
	mr.FastForward(2 * time.Minute)

	release2, acquired2, err := locker.TryAcquire(ctx, "billing:prebill:2024-03-16", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired2)
	defer release2()

	// The stale owner's release must not delete the new owner's lease
	release1()

	_, acquired3, err := locker.TryAcquire(ctx, "billing:prebill:2024-03-16", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired3, "stale release freed a lease it no longer owned")
}

func TestLease_ExpiresAfterTTL(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	_, acquired, err := locker.TryAcquire(ctx, "billing:cutoff:2024-03-16", 10*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(11 * time.Second)

	release, acquired2, err := locker.TryAcquire(ctx, "billing:cutoff:2024-03-16", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired2, "lock should be reacquirable after lease expiry")
	release()
}
