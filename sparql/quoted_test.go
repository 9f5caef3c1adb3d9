package sparql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/tuple"
)

func TestEncodeDecodeQuotedValueRoundTrips(t *testing.T) {
	tr := Triple{S: Bound(tuple.String("alice")), P: Bound(tuple.String("knows")), O: Bound(tuple.String("bob"))}
	v, err := EncodeQuotedValue(tr)
	require.NoError(t, err)

	got, ok := DecodeQuotedValue(v)
	require.True(t, ok)
	require.Equal(t, tuple.String("alice"), got.S.Value)
	require.Equal(t, tuple.String("knows"), got.P.Value)
	require.Equal(t, tuple.String("bob"), got.O.Value)
}

func TestDecodeQuotedValueRejectsOrdinaryBytes(t *testing.T) {
	_, ok := DecodeQuotedValue(tuple.Bytes([]byte("not a quoted triple")))
	require.False(t, ok)

	_, ok = DecodeQuotedValue(tuple.String("plain string"))
	require.False(t, ok)
}

func TestEncodeQuotedValueRejectsUnboundTerm(t *testing.T) {
	tr := Triple{S: Var("s"), P: Bound(tuple.String("knows")), O: Bound(tuple.String("bob"))}
	_, err := EncodeQuotedValue(tr)
	require.Error(t, err)
}

func TestQuotedTriplePreservedAsStructuredTerm(t *testing.T) {
	store := kv.NewMemStore()
	gm := newTestGraph()

	inner := Triple{S: Bound(tuple.String("alice")), P: Bound(tuple.String("knows")), O: Bound(tuple.String("bob"))}
	quoted, err := EncodeQuotedValue(inner)
	require.NoError(t, err)

	item := &indexing.Item{
		PK: tuple.From(quoted, tuple.String("certainty"), tuple.String("high")),
		Values: map[string]tuple.Element{
			"s": quoted, "p": tuple.String("certainty"), "o": tuple.String("high"),
		},
	}
	err = store.WithTransaction(context.Background(), kv.TxnConfig{}, func(txn kv.Txn) error {
		return gm.ScanItem(context.Background(), txn, item)
	})
	require.NoError(t, err)

	err = store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		pattern := Triple{S: QuotedTerm(inner), P: Bound(tuple.String("certainty")), O: Var("o")}
		rows, err := ScanTriple(context.Background(), txn, gm, pattern)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, tuple.String("high"), rows[0]["o"])
		return nil
	})
	require.NoError(t, err)

	err = store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		rows, err := ScanTriple(context.Background(), txn, gm, Triple{S: Var("s"), P: Bound(tuple.String("certainty")), O: Var("o")})
		require.NoError(t, err)
		require.Len(t, rows, 1)

		reconstructed := TermFromElement(rows[0]["s"])
		require.True(t, reconstructed.IsQuoted())
		require.Equal(t, tuple.String("alice"), reconstructed.Quoted.S.Value)
		require.Equal(t, tuple.String("knows"), reconstructed.Quoted.P.Value)
		require.Equal(t, tuple.String("bob"), reconstructed.Quoted.O.Value)
		return nil
	})
	require.NoError(t, err)
}
