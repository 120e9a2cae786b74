package distributedlock

import (
	"testing"
	"time"

	"github.com/irfndi/neurastock/internal/database"
	"github.com/irfndi/neurastock/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*Locker, func(string) bool) {
	t.Helper()
	mr, client := testutil.NewMiniRedis(t)
	locker := NewLocker(database.NewRedisClient(client, nil), "neurastock", nil)
	return locker, mr.Exists
}

func TestLocker_TryLock(t *testing.T) {
	locker, exists := newLocker(t)
	ctx := t.Context()

	opts := DefaultLockOptions()
	opts.TTL = time.Second

	lock, err := locker.TryLock(ctx, TraderLeaseKey("acc-1"), opts)
	require.NoError(t, err)
	assert.Equal(t, "neurastock:lock:trader:acc-1", lock.Key())
	assert.NotEmpty(t, lock.Token())
	assert.True(t, exists("neurastock:lock:trader:acc-1"))

	_, err = locker.TryLock(ctx, TraderLeaseKey("acc-1"), opts)
	assert.ErrorIs(t, err, ErrLockHeld)

	other, err := locker.TryLock(ctx, TraderLeaseKey("acc-2"), opts)
	require.NoError(t, err)
	assert.NotEqual(t, lock.Token(), other.Token())
}

func TestLocker_Unlock(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := t.Context()

	lock, err := locker.TryLock(ctx, "backtest", DefaultLockOptions())
	require.NoError(t, err)
	require.NoError(t, locker.Unlock(ctx, lock))

	locked, err := locker.IsLocked(ctx, "backtest")
	require.NoError(t, err)
	assert.False(t, locked)

	assert.ErrorIs(t, locker.Unlock(ctx, lock), ErrLockLost)
	assert.Error(t, locker.Unlock(ctx, nil))
}

func TestLocker_ExpiredLockIsLost(t *testing.T) {
	mr, client := testutil.NewMiniRedis(t)
	locker := NewLocker(database.NewRedisClient(client, nil), "", nil)
	ctx := t.Context()

	lock, err := locker.TryLock(ctx, "trader:acc-1", LockOptions{TTL: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "lock:trader:acc-1", lock.Key())

	mr.FastForward(2 * time.Second)

	assert.ErrorIs(t, locker.Extend(ctx, lock, time.Second), ErrLockLost)
	select {
	case <-lock.Lost():
	default:
		t.Fatal("expected Lost to be closed")
	}

	again, err := locker.TryLock(ctx, "trader:acc-1", LockOptions{TTL: time.Second})
	require.NoError(t, err)
	assert.NotEqual(t, lock.Token(), again.Token())
}

func TestLocker_Extend(t *testing.T) {
	mr, client := testutil.NewMiniRedis(t)
	locker := NewLocker(database.NewRedisClient(client, nil), "", nil)
	ctx := t.Context()

	lock, err := locker.TryLock(ctx, "job", LockOptions{TTL: time.Second})
	require.NoError(t, err)

	require.NoError(t, locker.Extend(ctx, lock, 10*time.Second))
	assert.Equal(t, 10*time.Second, mr.TTL("lock:job"))
}

func TestLocker_LockWaitsForRelease(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := t.Context()

	held, err := locker.TryLock(ctx, "trader:acc-1", DefaultLockOptions())
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = locker.Unlock(ctx, held)
	}()

	opts := DefaultLockOptions()
	opts.WaitTimeout = 2 * time.Second
	opts.RetryInterval = 10 * time.Millisecond

	lock, err := locker.Lock(ctx, "trader:acc-1", opts)
	require.NoError(t, err)
	assert.NotEqual(t, held.Token(), lock.Token())
}

func TestLocker_LockTimeout(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := t.Context()

	_, err := locker.TryLock(ctx, "trader:acc-1", DefaultLockOptions())
	require.NoError(t, err)

	opts := DefaultLockOptions()
	opts.WaitTimeout = 50 * time.Millisecond
	opts.RetryInterval = 10 * time.Millisecond

	_, err = locker.Lock(ctx, "trader:acc-1", opts)
	assert.ErrorContains(t, err, "timeout waiting for lock")
}

func TestLocker_AutoRenewalDetectsTakeover(t *testing.T) {
	mr, client := testutil.NewMiniRedis(t)
	locker := NewLocker(database.NewRedisClient(client, nil), "", nil)

	lock, err := locker.TryLock(t.Context(), "trader:acc-1", LockOptions{
		TTL:             time.Second,
		AutoRenewal:     true,
		RenewalInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, mr.Set("lock:trader:acc-1", "someone-else"))

	select {
	case <-lock.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("renewal did not notice the takeover")
	}
}

func TestLocker_Close(t *testing.T) {
	locker, exists := newLocker(t)
	ctx := t.Context()

	_, err := locker.TryLock(ctx, "a", DefaultLockOptions())
	require.NoError(t, err)
	_, err = locker.TryLock(ctx, "b", LockOptions{TTL: time.Second, AutoRenewal: true})
	require.NoError(t, err)

	require.NoError(t, locker.Close(ctx))
	assert.False(t, exists("neurastock:lock:a"))
	assert.False(t, exists("neurastock:lock:b"))
}
