package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestYAMLRoundTripsCustomInlineIndexName guards against inlineMetaString
// silently dropping an index name that differs from its owning field —
// parseInlineIndex defaults a nameless inline index to the field name, so
// a custom name that isn't re-emitted on export reverts on the next import.
func TestYAMLRoundTripsCustomInlineIndexName(t *testing.T) {
	e := &Entity{
		TypeName: "User",
		Fields: []FieldSchema{
			{Name: "id", FieldNumber: 0, Type: TInt64},
			{Name: "email", FieldNumber: 1, Type: TString},
		},
		Indexes: []IndexDescriptor{
			{Name: "email_lookup", Kind: KindScalar, Fields: []string{"email"}, Unique: true, State: StateReadable},
		},
	}

	data, err := ExportYAML([]*Entity{e})
	require.NoError(t, err)

	got, err := ImportYAML(data)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Indexes, 1)

	idx := got[0].Indexes[0]
	require.Equal(t, "email_lookup", idx.Name)
	require.Equal(t, KindScalar, idx.Kind)
	require.Equal(t, []string{"email"}, idx.Fields)
	require.True(t, idx.Unique)
}

// TestYAMLRoundTripsInlineIndexNamedAfterField confirms the common case —
// an inline index whose name equals its field's — still round-trips
// without an explicit "name:" key cluttering the declaration.
func TestYAMLRoundTripsInlineIndexNamedAfterField(t *testing.T) {
	e := &Entity{
		TypeName: "Widget",
		Fields: []FieldSchema{
			{Name: "owner", FieldNumber: 0, Type: TString},
		},
		Indexes: []IndexDescriptor{
			{Name: "owner", Kind: KindScalar, Fields: []string{"owner"}, Sparse: true, State: StateReadable},
		},
	}

	data, err := ExportYAML([]*Entity{e})
	require.NoError(t, err)
	require.NotContains(t, string(data), "name:owner")

	got, err := ImportYAML(data)
	require.NoError(t, err)
	require.Len(t, got[0].Indexes, 1)
	require.Equal(t, "owner", got[0].Indexes[0].Name)
	require.True(t, got[0].Indexes[0].Sparse)
}

// TestYAMLRoundTripsBlockIndexAndDirectory exercises the multi-field
// "#Index" block path and "#Directory" component path alongside the inline
// one, matching entityToYAML's two emission shapes.
func TestYAMLRoundTripsBlockIndexAndDirectory(t *testing.T) {
	e := &Entity{
		TypeName:  "Order",
		Directory: []DirectoryComponentRecord{{Static: "orders"}, {FieldName: "region"}},
		Fields: []FieldSchema{
			{Name: "region", FieldNumber: 0, Type: TString},
			{Name: "customer", FieldNumber: 1, Type: TString},
			{Name: "placedAt", FieldNumber: 2, Type: TDate},
		},
		Indexes: []IndexDescriptor{
			{Name: "by_customer_date", Kind: KindComposite, Fields: []string{"customer", "placedAt"}, State: StateReadable},
		},
	}

	data, err := ExportYAML([]*Entity{e})
	require.NoError(t, err)

	got, err := ImportYAML(data)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, e.Directory, got[0].Directory)
	require.Len(t, got[0].Indexes, 1)
	require.Equal(t, "by_customer_date", got[0].Indexes[0].Name)
	require.Equal(t, []string{"customer", "placedAt"}, got[0].Indexes[0].Fields)
}
