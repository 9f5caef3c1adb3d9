package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/coreindex/errs"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
)

func newTestLock(store kv.Store, sessionID string) *Lock {
	return New(Config{
		Store:           store,
		Sub:             subspace.FromPrefix([]byte("locks")),
		Name:            "build",
		SessionID:       sessionID,
		SessionName:     "worker-" + sessionID,
		LockTimeout:      200 * time.Millisecond,
		RenewalInterval:  20 * time.Millisecond,
	})
}

func TestAcquireRefreshRelease(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	l := newTestLock(store, "a")

	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, l.IsHeld())

	// Same session re-acquiring refreshes rather than failing.
	ok, err = l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx))
	require.False(t, l.IsHeld())
}

func TestSecondSessionCannotAcquire(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	a := newTestLock(store, "a")
	b := newTestLock(store, "b")

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	defer a.Release(ctx)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLockStealingWhenStale(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	a := New(Config{
		Store: store, Sub: subspace.FromPrefix([]byte("locks")), Name: "build",
		SessionID: "a", LockTimeout: 10 * time.Millisecond, RenewalInterval: time.Hour,
	})
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	a.stopRenewal() // simulate a's process dying without releasing

	time.Sleep(30 * time.Millisecond)

	b := New(Config{
		Store: store, Sub: subspace.FromPrefix([]byte("locks")), Name: "build",
		SessionID: "b", LockTimeout: time.Hour, AllowLockStealing: true, StaleThreshold: 10 * time.Millisecond,
	})
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExecuteRunsWorkAndReleases(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	l := newTestLock(store, "a")

	var ran bool
	err := l.Execute(ctx, func(ctx context.Context) error {
		ran = true
		require.True(t, l.IsHeld())
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.False(t, l.IsHeld())
}

func TestExecuteFailsWhenAlreadyHeld(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	a := newTestLock(store, "a")
	b := newTestLock(store, "b")

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	defer a.Release(ctx)

	err = b.Execute(ctx, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, errs.LockNotAcquired)
}

func TestNewSessionIDIsUnique(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}
