package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/tuple"
)

func seedStore(t *testing.T, n int) kv.Store {
	store := kv.NewMemStore()
	err := store.WithTransaction(context.Background(), kv.TxnConfig{}, func(txn kv.Txn) error {
		for i := 0; i < n; i++ {
			key := tuple.From(tuple.Int(int64(i))).Pack()
			txn.SetValue(key, []byte{byte(i)})
		}
		return nil
	})
	require.NoError(t, err)
	return store
}

func getFromTxn(txn kv.Txn, key tuple.Tuple) ([]byte, bool, error) {
	raw, err := txn.GetValue(key.Pack())
	if err != nil {
		return nil, false, err
	}
	return raw, raw != nil, nil
}

func TestFetchPreservesRequestOrder(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, 10)
	f := New(Config{Store: store, Get: getFromTxn, UseLocalityHints: true, LocalityGroupSize: 3})

	keys := []tuple.Tuple{
		tuple.From(tuple.Int(7)), tuple.From(tuple.Int(2)), tuple.From(tuple.Int(9)), tuple.From(tuple.Int(0)),
	}
	var results []Result
	err := store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		r, err := f.Fetch(ctx, txn, keys)
		results = r
		return err
	})
	require.NoError(t, err)
	require.Len(t, results, len(keys))
	for i, r := range results {
		require.True(t, r.Found)
		require.Equal(t, keys[i], r.Key)
	}
}

func TestFetchReportsMisses(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, 2)
	f := New(Config{Store: store, Get: getFromTxn})

	keys := []tuple.Tuple{tuple.From(tuple.Int(0)), tuple.From(tuple.Int(99))}
	var results []Result
	err := store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		r, err := f.Fetch(ctx, txn, keys)
		results = r
		return err
	})
	require.NoError(t, err)
	require.True(t, results[0].Found)
	require.False(t, results[1].Found)
}

func TestStreamFetchEmitsInOrder(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, 5)
	f := New(Config{Store: store, Get: getFromTxn, UseLocalityHints: true, LocalityGroupSize: 2})

	keys := []tuple.Tuple{
		tuple.From(tuple.Int(4)), tuple.From(tuple.Int(1)), tuple.From(tuple.Int(3)), tuple.From(tuple.Int(0)),
	}
	var emitted []tuple.Tuple
	err := store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		return f.StreamFetch(ctx, txn, keys, func(r Result) error {
			emitted = append(emitted, r.Key)
			return nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, keys, emitted)
}

func TestParallelFetchCoversAllKeys(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, 20)
	f := New(Config{Store: store, Get: getFromTxn, MaxParallelism: 4})

	keys := make([]tuple.Tuple, 20)
	for i := range keys {
		keys[i] = tuple.From(tuple.Int(int64(i)))
	}
	results, err := f.ParallelFetch(ctx, keys)
	require.NoError(t, err)
	require.Len(t, results, 20)
	for i, r := range results {
		require.True(t, r.Found, "key %d should be found", i)
		require.Equal(t, keys[i], r.Key)
	}
}

func TestScanOrderGroupsLocalitySort(t *testing.T) {
	keys := []tuple.Tuple{
		tuple.From(tuple.Int(5)), tuple.From(tuple.Int(1)), tuple.From(tuple.Int(9)), tuple.From(tuple.Int(3)),
	}
	order := scanOrder(keys, true, 2)
	require.Len(t, order, 4)
	// Within each group of 2, indices are sorted by packed byte order.
	require.True(t, lessOrEqualPacked(keys[order[0]], keys[order[1]]))
	require.True(t, lessOrEqualPacked(keys[order[2]], keys[order[3]]))
}

func lessOrEqualPacked(a, b tuple.Tuple) bool {
	pa, pb := a.Pack(), b.Pack()
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return len(pa) <= len(pb)
}
