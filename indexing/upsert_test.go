package indexing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/coreindex/catalog"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// userRecord is the primary-subspace wire form used by these tests; JSON is
// the raw-record convention this core already uses for catalog metadata and
// builder/rangeset.go's persisted state.
type userRecord struct {
	PK    int64  `json:"pk"`
	Email string `json:"email"`
}

func encodeUser(pk int64, email string) []byte {
	raw, err := json.Marshal(userRecord{PK: pk, Email: email})
	if err != nil {
		panic(err)
	}
	return raw
}

func decodeUser(raw []byte) (*Item, error) {
	var rec userRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &Item{
		PK:     tuple.From(tuple.Int(rec.PK)),
		Values: map[string]tuple.Element{"email": tuple.String(rec.Email)},
	}, nil
}

// TestUpsertFansOutAndDeleteTearsDown runs spec §8 Scenario 1 literally:
// three users are inserted under a scalar index on email, a query by email
// returns exactly the matching user, deleting that user empties the index
// subspace entry it held, and a second query then returns nothing.
func TestUpsertFansOutAndDeleteTearsDown(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	cat := catalog.New(subspace.FromPrefix([]byte("meta")))
	reg := NewRegistry()

	primary := subspace.FromPrefix([]byte("p"))
	blobs := subspace.FromPrefix([]byte("b"))
	emailIdx := subspace.FromPrefix([]byte("i_email"))

	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return cat.Register(ctx, txn, catalog.Entity{
			TypeName: "user",
			Fields: []catalog.FieldSchema{
				{Name: "email", FieldNumber: 1, Type: catalog.TString},
			},
			Indexes: []catalog.IndexDescriptor{
				{Name: "by_email", Kind: catalog.KindScalar, Fields: []string{"email"}},
			},
		})
	})
	require.NoError(t, err)

	maintainer := &ScalarMaintainer{Name: "by_email", Fields: []string{"email"}, Sub: emailIdx}
	reg.Register("user", "by_email", maintainer)

	type seed struct {
		pk    int64
		email string
	}
	seeds := []seed{
		{1, "a@x"},
		{2, "b@x"},
		{3, "c@x"},
	}
	for _, s := range seeds {
		s := s
		err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
			item := &Item{PK: tuple.From(tuple.Int(s.pk)), Values: map[string]tuple.Element{"email": tuple.String(s.email)}}
			return Upsert(ctx, txn, cat, reg, primary, blobs, "user", item, encodeUser(s.pk, s.email), decodeUser)
		})
		require.NoError(t, err)
	}

	queryByEmail := func(email string) []tuple.Tuple {
		var pks []tuple.Tuple
		err := store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
			rows, err := maintainer.ScanEqual(ctx, txn, tuple.From(tuple.String(email)))
			if err != nil {
				return err
			}
			for _, row := range rows {
				pks = append(pks, row) // single-field index: remainder is exactly the PK
			}
			return nil
		})
		require.NoError(t, err)
		return pks
	}

	got := queryByEmail("b@x")
	require.Len(t, got, 1)
	require.Equal(t, tuple.From(tuple.Int(2)), got[0])

	err = store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return Delete(ctx, txn, cat, reg, primary, blobs, "user", tuple.From(tuple.Int(2)), decodeUser)
	})
	require.NoError(t, err)

	require.Empty(t, queryByEmail("b@x"))

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		begin, end := emailIdx.Range()
		it := txn.GetRange(kv.FirstGreaterOrEqual(begin), kv.FirstGreaterOrEqual(end), kv.StreamWantAll)
		count := 0
		for it.Next() {
			count++
		}
		require.NoError(t, it.Err())
		require.Equal(t, 2, count, "index subspace should have exactly two keys left")
		return nil
	})
	require.NoError(t, err)
}

// TestUpsertUpdatesIndexOnFieldChange checks that re-upserting an existing
// pk with a changed field value clears the stale index entry, not just adds
// the new one.
func TestUpsertUpdatesIndexOnFieldChange(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	cat := catalog.New(subspace.FromPrefix([]byte("meta")))
	reg := NewRegistry()

	primary := subspace.FromPrefix([]byte("p"))
	blobs := subspace.FromPrefix([]byte("b"))
	emailIdx := subspace.FromPrefix([]byte("i_email"))

	err := store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		return cat.Register(ctx, txn, catalog.Entity{
			TypeName: "user",
			Fields:   []catalog.FieldSchema{{Name: "email", FieldNumber: 1, Type: catalog.TString}},
			Indexes:  []catalog.IndexDescriptor{{Name: "by_email", Kind: catalog.KindScalar, Fields: []string{"email"}}},
		})
	})
	require.NoError(t, err)

	maintainer := &ScalarMaintainer{Name: "by_email", Fields: []string{"email"}, Sub: emailIdx}
	reg.Register("user", "by_email", maintainer)

	err = store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		item := &Item{PK: tuple.From(tuple.Int(1)), Values: map[string]tuple.Element{"email": tuple.String("old@x")}}
		return Upsert(ctx, txn, cat, reg, primary, blobs, "user", item, encodeUser(1, "old@x"), decodeUser)
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{}, func(txn kv.Txn) error {
		item := &Item{PK: tuple.From(tuple.Int(1)), Values: map[string]tuple.Element{"email": tuple.String("new@x")}}
		return Upsert(ctx, txn, cat, reg, primary, blobs, "user", item, encodeUser(1, "new@x"), decodeUser)
	})
	require.NoError(t, err)

	err = store.WithTransaction(ctx, kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		oldRows, err := maintainer.ScanEqual(ctx, txn, tuple.From(tuple.String("old@x")))
		require.NoError(t, err)
		require.Empty(t, oldRows)

		newRows, err := maintainer.ScanEqual(ctx, txn, tuple.From(tuple.String("new@x")))
		require.NoError(t, err)
		require.Len(t, newRows, 1)
		return nil
	})
	require.NoError(t, err)
}
