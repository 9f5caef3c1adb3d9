package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
)

func TestLeaderElectionDelegatesToLock(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	e := NewLeaderElection(Config{
		Store: store, Sub: subspace.FromPrefix([]byte("leader")), Name: "coordinator",
		SessionID: "a", LockTimeout: 200 * time.Millisecond, RenewalInterval: 20 * time.Millisecond,
	})

	ok, err := e.TryBecomeLeader(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, e.IsLeader())

	holder, found, err := e.CurrentLeader(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "a", holder.SessionID)

	require.NoError(t, e.Resign(ctx))
	require.False(t, e.IsLeader())
}
