package builder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/coreindex/catalog"
	"github.com/ledgerwatch/coreindex/errs"
	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

func TestThrottlerGrowsOnSuccessAndCapsAtMax(t *testing.T) {
	th := DefaultThrottler()
	th.maxBatch = 600
	start := th.BatchSize()
	th.ReportSuccess()
	require.Greater(t, th.BatchSize(), start)

	for i := 0; i < 20; i++ {
		th.ReportSuccess()
	}
	require.Equal(t, 600, th.BatchSize())
	require.Zero(t, th.Sleep())
}

func TestThrottlerShrinksAndBacksOffOnRetryableFailure(t *testing.T) {
	th := DefaultThrottler()
	start := th.BatchSize()

	retry := th.ReportFailure(fmt.Errorf("wrap: %w", errs.Transient))
	require.True(t, retry)
	require.Less(t, th.BatchSize(), start)
	require.Greater(t, th.Sleep(), time.Duration(0))

	prevSleep := th.Sleep()
	retry = th.ReportFailure(fmt.Errorf("wrap: %w", errs.Transient))
	require.True(t, retry)
	require.Greater(t, th.Sleep(), prevSleep)
}

func TestThrottlerDoesNotRetryNonTransientFailure(t *testing.T) {
	th := DefaultThrottler()
	start := th.BatchSize()
	startSleep := th.Sleep()

	retry := th.ReportFailure(errs.InvalidStructure)
	require.False(t, retry)
	require.Equal(t, start, th.BatchSize())
	require.Equal(t, startSleep, th.Sleep())
}

func TestRangeSetPersistLoadRoundTrip(t *testing.T) {
	store := kv.NewMemStore()
	sub := subspace.FromPrefix([]byte("progress"))
	rs := NewRangeSet(sub, []byte{0x00}, []byte{0xff})

	idx, begin, end, beginExclusive, ok := rs.NextBatchBounds()
	require.True(t, ok)
	require.Equal(t, 0, idx)
	require.Equal(t, []byte{0x00}, begin)
	require.Equal(t, []byte{0xff}, end)
	require.False(t, beginExclusive)

	rs.RecordProgress(idx, []byte{0x50})
	err := store.WithTransaction(context.Background(), kv.TxnConfig{}, func(txn kv.Txn) error {
		return rs.Persist(txn)
	})
	require.NoError(t, err)

	var loaded *RangeSet
	err = store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		var err error
		loaded, err = Load(txn, sub)
		return err
	})
	require.NoError(t, err)
	require.False(t, loaded.Empty())

	_, lbegin, _, lexcl, lok := loaded.NextBatchBounds()
	require.True(t, lok)
	require.True(t, lexcl)
	require.Equal(t, []byte{0x50}, lbegin)
}

func TestRangeSetMarkCompleteEmptiesSet(t *testing.T) {
	sub := subspace.FromPrefix([]byte("progress"))
	rs := NewRangeSet(sub, []byte{0x00}, []byte{0xff})
	require.False(t, rs.Empty())
	rs.MarkRangeComplete(0)
	require.True(t, rs.Empty())

	_, _, _, _, ok := rs.NextBatchBounds()
	require.False(t, ok)
}

func TestRangeSetSplitProducesDisjointSubranges(t *testing.T) {
	sub := subspace.FromPrefix([]byte("progress"))
	rs := NewRangeSet(sub, []byte{0x00}, []byte{0xf0})
	rs.Split(0, 4)
	require.Len(t, rs.ranges, 4)
	for i := 1; i < len(rs.ranges); i++ {
		require.True(t, kv.KeyLess(rs.ranges[i-1].End, rs.ranges[i].End) || bytesEqual(rs.ranges[i-1].End, rs.ranges[i].End))
		require.True(t, bytesEqual(rs.ranges[i-1].End, rs.ranges[i].Begin))
	}
	require.True(t, bytesEqual(rs.ranges[0].Begin, []byte{0x00}))
	require.True(t, bytesEqual(rs.ranges[len(rs.ranges)-1].End, []byte{0xf0}))
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// seedRows writes n raw rows keyed by tuple.Int(i) under sub, each a small
// JSON-free payload the test Source.Decode turns into an Item with a single
// "v" field equal to the key, to exercise the builder loop against a real
// ScalarMaintainer.
func seedRows(t *testing.T, store kv.Store, sub subspace.Subspace, n int) {
	err := store.WithTransaction(context.Background(), kv.TxnConfig{}, func(txn kv.Txn) error {
		for i := 0; i < n; i++ {
			key := sub.Pack(tuple.From(tuple.Int(int64(i))))
			txn.SetValue(key, []byte{byte(i)})
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRunBuildsIndexAndTransitionsToReadable(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	primarySub := subspace.FromPrefix([]byte("primary"))
	indexSub := subspace.FromPrefix([]byte("index"))
	progressSub := subspace.FromPrefix([]byte("progress"))
	const n = 25

	seedRows(t, store, primarySub, n)

	cat := catalog.New(subspace.FromPrefix([]byte("meta")))
	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return cat.Register(ctx, txn, catalog.Entity{
			TypeName: "widget",
			Fields:   []catalog.FieldSchema{{Name: "v", FieldNumber: 1, Type: catalog.TInt64}},
			Indexes:  []catalog.IndexDescriptor{{Name: "by_v", Kind: catalog.KindScalar, Fields: []string{"v"}}},
		})
	})
	require.NoError(t, err)

	maintainer := &indexing.ScalarMaintainer{Name: "by_v", Fields: []string{"v"}, Sub: indexSub}

	src := &PrimarySource{
		Sub: primarySub,
		DecodeFunc: func(ctx context.Context, txn kv.Txn, row kv.KV) (*indexing.Item, bool, error) {
			t, err := primarySub.Unpack(row.Key)
			if err != nil {
				return nil, false, err
			}
			return &indexing.Item{PK: t, Values: map[string]tuple.Element{"v": t[0]}}, true, nil
		},
	}

	err = Run(ctx, Config{
		Store:       store,
		Catalog:     cat,
		TypeName:    "widget",
		IndexName:   "by_v",
		Maintainer:  maintainer,
		Source:      src,
		ProgressSub: progressSub,
	})
	require.NoError(t, err)

	descs, err := cat.IndexDescriptors("widget")
	require.NoError(t, err)
	require.Len(t, descs, 1)
	require.Equal(t, catalog.StateReadable, descs[0].State)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		for i := 0; i < n; i++ {
			key := indexSub.Pack(tuple.From(tuple.Int(int64(i)), tuple.Int(int64(i))))
			v, err := txn.GetValue(key)
			if err != nil {
				return err
			}
			require.NotNil(t, v, "missing index entry for %d", i)
		}

		rs, err := Load(txn, progressSub)
		if err != nil {
			return err
		}
		require.True(t, rs.Empty())
		return nil
	})
	require.NoError(t, err)
}

func TestRunClearsExistingIndexRangeFirst(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	primarySub := subspace.FromPrefix([]byte("primary"))
	indexSub := subspace.FromPrefix([]byte("index"))
	progressSub := subspace.FromPrefix([]byte("progress"))

	seedRows(t, store, primarySub, 3)

	cat := catalog.New(subspace.FromPrefix([]byte("meta")))
	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return cat.Register(ctx, txn, catalog.Entity{
			TypeName: "widget",
			Fields:   []catalog.FieldSchema{{Name: "v", FieldNumber: 1, Type: catalog.TInt64}},
			Indexes:  []catalog.IndexDescriptor{{Name: "by_v", Kind: catalog.KindScalar, Fields: []string{"v"}}},
		})
	})
	require.NoError(t, err)

	// A stale entry that does not correspond to any current primary row.
	staleKey := indexSub.Pack(tuple.From(tuple.Int(999), tuple.Int(999)))
	err = store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		txn.SetValue(staleKey, []byte{})
		return nil
	})
	require.NoError(t, err)

	maintainer := &indexing.ScalarMaintainer{Name: "by_v", Fields: []string{"v"}, Sub: indexSub}
	src := &PrimarySource{
		Sub: primarySub,
		DecodeFunc: func(ctx context.Context, txn kv.Txn, row kv.KV) (*indexing.Item, bool, error) {
			t, err := primarySub.Unpack(row.Key)
			if err != nil {
				return nil, false, err
			}
			return &indexing.Item{PK: t, Values: map[string]tuple.Element{"v": t[0]}}, true, nil
		},
	}

	begin, end := indexSub.Range()
	err = Run(ctx, Config{
		Store:       store,
		Catalog:     cat,
		TypeName:    "widget",
		IndexName:   "by_v",
		Maintainer:  maintainer,
		Source:      src,
		ProgressSub: progressSub,
		ClearIndexRange: func(txn kv.Txn) {
			txn.ClearRange(begin, end)
		},
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		v, err := txn.GetValue(staleKey)
		if err != nil {
			return err
		}
		require.Nil(t, v, "stale index entry should have been cleared")
		return nil
	})
	require.NoError(t, err)
}
