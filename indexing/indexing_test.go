package indexing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/coreindex/errs"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

func item(pk tuple.Tuple, values map[string]tuple.Element) *Item {
	return &Item{PK: pk, Values: values}
}

func TestScalarMaintainerScanAndUpdate(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	m := &ScalarMaintainer{Name: "by_name", Fields: []string{"name"}, Sub: subspace.FromPrefix([]byte("s"))}

	a := item(tuple.From(tuple.Int(1)), map[string]tuple.Element{"name": tuple.String("alice")})
	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return m.ScanItem(ctx, txn, a)
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		for _, k := range m.ComputeIndexKeys(a) {
			v, err := txn.GetValue(k)
			require.NoError(t, err)
			require.NotNil(t, v)
		}
		return nil
	})
	require.NoError(t, err)

	renamed := item(tuple.From(tuple.Int(1)), map[string]tuple.Element{"name": tuple.String("alicia")})
	err = store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return m.UpdateIndex(ctx, txn, a, renamed)
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		for _, k := range m.ComputeIndexKeys(a) {
			v, err := txn.GetValue(k)
			require.NoError(t, err)
			require.Nil(t, v, "old key should be cleared")
		}
		for _, k := range m.ComputeIndexKeys(renamed) {
			v, err := txn.GetValue(k)
			require.NoError(t, err)
			require.NotNil(t, v, "new key should be set")
		}
		return nil
	})
	require.NoError(t, err)
}

func TestScalarMaintainerUniqueViolation(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	m := &ScalarMaintainer{Name: "by_email", Fields: []string{"email"}, Sub: subspace.FromPrefix([]byte("u")), Unique: true}

	a := item(tuple.From(tuple.Int(1)), map[string]tuple.Element{"email": tuple.String("a@x.com")})
	b := item(tuple.From(tuple.Int(2)), map[string]tuple.Element{"email": tuple.String("a@x.com")})

	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return m.ScanItem(ctx, txn, a)
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return m.ScanItem(ctx, txn, b)
	})
	require.Error(t, err)
	require.ErrorIs(t, err, errs.UniqueViolation)
}

func TestScalarMaintainerSparseSkipsNullField(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	m := &ScalarMaintainer{Name: "by_nick", Fields: []string{"nick"}, Sub: subspace.FromPrefix([]byte("n")), Sparse: true}

	a := item(tuple.From(tuple.Int(1)), map[string]tuple.Element{})
	require.Nil(t, m.ComputeIndexKeys(a))

	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return m.ScanItem(ctx, txn, a)
	})
	require.NoError(t, err)
}

func TestPermutedMaintainerWritesOnePerPermutation(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	perms := AllPermutations(2)
	require.Len(t, perms, 2)
	m := &PermutedMaintainer{Name: "pm", Fields: []string{"a", "b"}, Permutations: perms, Sub: subspace.FromPrefix([]byte("p"))}

	it := item(tuple.From(tuple.Int(1)), map[string]tuple.Element{"a": tuple.String("x"), "b": tuple.String("y")})
	keys := m.ComputeIndexKeys(it)
	require.Len(t, keys, 2)

	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return m.ScanItem(ctx, txn, it)
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		for _, k := range keys {
			v, err := txn.GetValue(k)
			require.NoError(t, err)
			require.NotNil(t, v)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestAggregationCountScanAndUpdate(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	m := &AggregationMaintainer{Name: "count_by_group", GroupFields: []string{"g"}, Func: AggregateCount, Sub: subspace.FromPrefix([]byte("ag"))}

	a := item(tuple.From(tuple.Int(1)), map[string]tuple.Element{"g": tuple.String("grp1")})
	b := item(tuple.From(tuple.Int(2)), map[string]tuple.Element{"g": tuple.String("grp1")})
	groupKeyElems := tuple.From(tuple.String("grp1"))

	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		if err := m.ScanItem(ctx, txn, a); err != nil {
			return err
		}
		return m.ScanItem(ctx, txn, b)
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		v, err := m.Read(txn, groupKeyElems)
		require.NoError(t, err)
		require.Equal(t, uint64(2), v.Uint64())
		return nil
	})
	require.NoError(t, err)

	// Deleting a decrements the group count.
	err = store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return m.UpdateIndex(ctx, txn, a, nil)
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		v, err := m.Read(txn, groupKeyElems)
		require.NoError(t, err)
		require.Equal(t, uint64(1), v.Uint64())
		return nil
	})
	require.NoError(t, err)
}

func TestAggregationSumAccumulates(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	m := &AggregationMaintainer{Name: "sum_by_group", GroupFields: []string{"g"}, SumField: "amount", Func: AggregateSum, Sub: subspace.FromPrefix([]byte("sg"))}

	a := item(tuple.From(tuple.Int(1)), map[string]tuple.Element{"g": tuple.String("grp1"), "amount": tuple.Int(10)})
	b := item(tuple.From(tuple.Int(2)), map[string]tuple.Element{"g": tuple.String("grp1"), "amount": tuple.Int(5)})

	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		if err := m.ScanItem(ctx, txn, a); err != nil {
			return err
		}
		return m.ScanItem(ctx, txn, b)
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		v, err := m.Read(txn, tuple.From(tuple.String("grp1")))
		require.NoError(t, err)
		require.Equal(t, uint64(15), v.Uint64())
		return nil
	})
	require.NoError(t, err)
}

func TestBitmapMaintainerAddRemove(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	m := &BitmapMaintainer{Name: "bm", GroupFields: []string{"g"}, Sub: subspace.FromPrefix([]byte("b"))}

	a := item(tuple.From(tuple.Int(100)), map[string]tuple.Element{"g": tuple.String("grp1")})
	b := item(tuple.From(tuple.Int(200)), map[string]tuple.Element{"g": tuple.String("grp1")})

	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		if err := m.ScanItem(ctx, txn, a); err != nil {
			return err
		}
		return m.ScanItem(ctx, txn, b)
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		bm, err := m.Group(ctx, txn, tuple.From(tuple.String("grp1")))
		require.NoError(t, err)
		require.True(t, bm.Contains(100))
		require.True(t, bm.Contains(200))
		require.Equal(t, uint64(2), bm.GetCardinality())
		return nil
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return m.UpdateIndex(ctx, txn, a, nil)
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		bm, err := m.Group(ctx, txn, tuple.From(tuple.String("grp1")))
		require.NoError(t, err)
		require.False(t, bm.Contains(100))
		require.True(t, bm.Contains(200))
		return nil
	})
	require.NoError(t, err)
}

func TestRankMaintainerTopKAndRank(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	m := &RankMaintainer{Name: "r", Field: "score", Sub: subspace.FromPrefix([]byte("rk"))}

	entries := []struct {
		pk    int64
		score int64
	}{{1, 10}, {2, 50}, {3, 30}}

	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		for _, e := range entries {
			it := item(tuple.From(tuple.Int(e.pk)), map[string]tuple.Element{"score": tuple.Int(e.score)})
			if err := m.ScanItem(ctx, txn, it); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		count, err := m.Count(txn)
		require.NoError(t, err)
		require.Equal(t, int64(3), count)

		top, err := m.TopK(ctx, txn, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		require.Equal(t, int64(50), top[0].Score)
		require.Equal(t, int64(30), top[1].Score)

		// Query a value strictly between two scores to avoid depending on
		// exact-match boundary semantics: only the 50 entry is above 35.
		rank, err := m.Rank(ctx, txn, 35)
		require.NoError(t, err)
		require.Equal(t, int64(1), rank)
		return nil
	})
	require.NoError(t, err)
}

func TestRankSkipListMaintainerScanAndQuery(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	m := &RankSkipListMaintainer{Name: "rsl", Field: "score", Sub: subspace.FromPrefix([]byte("rsk")), MaxLevels: 16}

	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		for i, score := range []int64{40, 10, 90, 60} {
			it := item(tuple.From(tuple.Int(int64(i))), map[string]tuple.Element{"score": tuple.Int(score)})
			if err := m.ScanItem(ctx, txn, it); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		count, err := m.Count(txn)
		require.NoError(t, err)
		require.Equal(t, int64(4), count)

		top, err := m.TopK(ctx, txn, 1)
		require.NoError(t, err)
		require.Len(t, top, 1)
		require.Equal(t, int64(90), top[0].Score)

		require.NoError(t, m.ValidateSpanIntegrity(ctx, txn))
		return nil
	})
	require.NoError(t, err)
}

func TestRelationshipMaintainerForwardAndReverse(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	m := &RelationshipMaintainer{Name: "follows", FromField: "from", ToField: "to", Sub: subspace.FromPrefix([]byte("rel"))}

	it := item(tuple.From(tuple.String("a"), tuple.String("b")), map[string]tuple.Element{"from": tuple.String("a"), "to": tuple.String("b")})
	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return m.ScanItem(ctx, txn, it)
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		forward, err := m.Related(ctx, txn, "fwd", tuple.String("a"))
		require.NoError(t, err)
		require.Equal(t, []tuple.Element{tuple.String("b")}, forward)

		reverse, err := m.Related(ctx, txn, "rev", tuple.String("b"))
		require.NoError(t, err)
		require.Equal(t, []tuple.Element{tuple.String("a")}, reverse)
		return nil
	})
	require.NoError(t, err)
}

func TestVersionMaintainerAppendAndDiff(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	version := int64(0)
	m := &VersionMaintainer{Name: "hist", Sub: subspace.FromPrefix([]byte("v")), CommitVersion: func(ctx context.Context) int64 {
		version++
		return version
	}}

	pk := tuple.From(tuple.Int(1))
	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		if err := m.Append(ctx, txn, pk, []byte("v1")); err != nil {
			return err
		}
		return m.Append(ctx, txn, pk, []byte("v2"))
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		recent, err := m.Versions(ctx, txn, pk, 1)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		require.Equal(t, []byte("v2"), recent[0].Payload)

		diff, err := m.Diff(ctx, txn, pk)
		require.NoError(t, err)
		require.Len(t, diff, 2)
		require.Equal(t, []byte("v1"), diff[0].Payload)
		require.Equal(t, []byte("v2"), diff[1].Payload)
		return nil
	})
	require.NoError(t, err)
}

func TestOpaqueMaintainerDelegatesToKeyFunc(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	sub := subspace.FromPrefix([]byte("op"))
	m := &OpaqueMaintainer{Name: "vec", Sub: sub, KeyFunc: func(it *Item) [][]byte {
		tok, ok := it.FieldValue("token")
		if !ok {
			return nil
		}
		return [][]byte{sub.Pack(tuple.From(tok, it.PK[0]))}
	}}

	it := item(tuple.From(tuple.Int(1)), map[string]tuple.Element{"token": tuple.String("hello")})
	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return m.ScanItem(ctx, txn, it)
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		for _, k := range m.ComputeIndexKeys(it) {
			v, err := txn.GetValue(k)
			require.NoError(t, err)
			require.NotNil(t, v)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRegistryLookupAndForEntity(t *testing.T) {
	r := NewRegistry()
	scalar := &ScalarMaintainer{Name: "by_v", Fields: []string{"v"}, Sub: subspace.FromPrefix([]byte("x"))}
	r.Register("widget", "by_v", scalar)

	got, ok := r.Lookup("widget", "by_v")
	require.True(t, ok)
	require.Same(t, scalar, got)

	_, ok = r.Lookup("widget", "missing")
	require.False(t, ok)

	all := r.ForEntity("widget", []string{"by_v", "missing"})
	require.Len(t, all, 1)
}

func TestEnvelopeInlineAndBlobRoundTrip(t *testing.T) {
	ctx := context.Background()
	_ = ctx
	store := kv.NewMemStore()
	primary := subspace.FromPrefix([]byte("prim"))
	blobs := subspace.FromPrefix([]byte("blob"))
	pk := tuple.From(tuple.Int(1))

	small := []byte("small value")
	big := make([]byte, InlineThreshold+10)
	for i := range big {
		big[i] = byte(i)
	}

	err := store.WithTransaction(context.Background(), kv.TxnConfig{}, func(txn kv.Txn) error {
		return StoreItemValue(txn, primary, blobs, pk, small)
	})
	require.NoError(t, err)

	err = store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		v, ok, err := LoadItemValue(txn, primary, pk)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, small, v)
		return nil
	})
	require.NoError(t, err)

	pk2 := tuple.From(tuple.Int(2))
	err = store.WithTransaction(context.Background(), kv.TxnConfig{}, func(txn kv.Txn) error {
		return StoreItemValue(txn, primary, blobs, pk2, big)
	})
	require.NoError(t, err)

	err = store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		v, ok, err := LoadItemValue(txn, primary, pk2)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, big, v)
		return nil
	})
	require.NoError(t, err)

	err = store.WithTransaction(context.Background(), kv.TxnConfig{}, func(txn kv.Txn) error {
		return DeleteItemValue(txn, primary, blobs, pk2)
	})
	require.NoError(t, err)

	err = store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		_, ok, err := LoadItemValue(txn, primary, pk2)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}
