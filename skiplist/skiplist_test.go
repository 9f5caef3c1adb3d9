package skiplist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

func pk(id int64) tuple.Tuple { return tuple.From(tuple.Int(id)) }

func TestListInsertRankTopK(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	l := &List{Sub: subspace.FromPrefix([]byte("t"))}

	scores := map[int64]int64{1: 100, 2: 50, 3: 75, 4: 200, 5: 10}
	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		for id, score := range scores {
			if err := l.Insert(ctx, txn, score, pk(id)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		count, err := l.Count(txn)
		require.NoError(t, err)
		require.Equal(t, int64(5), count)

		top, err := l.TopK(ctx, txn, 3)
		require.NoError(t, err)
		require.Len(t, top, 3)
		require.Equal(t, int64(200), top[0].Score)
		require.Equal(t, int64(100), top[1].Score)
		require.Equal(t, int64(75), top[2].Score)

		rank, err := l.Rank(ctx, txn, 200, pk(4))
		require.NoError(t, err)
		require.Equal(t, int64(0), rank)

		rank, err = l.Rank(ctx, txn, 10, pk(5))
		require.NoError(t, err)
		require.Equal(t, int64(4), rank)

		return l.ValidateSpanIntegrity(ctx, txn)
	})
	require.NoError(t, err)
}

func TestListDeleteMaintainsSpans(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	l := &List{Sub: subspace.FromPrefix([]byte("t"))}

	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		for id := int64(1); id <= 10; id++ {
			if err := l.Insert(ctx, txn, id*10, pk(id)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return l.Delete(ctx, txn, 50, pk(5))
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		count, err := l.Count(txn)
		require.NoError(t, err)
		require.Equal(t, int64(9), count)
		return l.ValidateSpanIntegrity(ctx, txn)
	})
	require.NoError(t, err)
}

func TestListWithoutMetricsDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	l := &List{Sub: subspace.FromPrefix([]byte("t"))}

	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return l.Insert(ctx, txn, 1, pk(1))
	})
	require.NoError(t, err)
	// No Metrics configured: should not panic.
	err = store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return l.Delete(ctx, txn, 1, pk(1))
	})
	require.NoError(t, err)
}
