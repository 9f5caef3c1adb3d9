package indexing

import (
	"context"

	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
)

// OpaqueMaintainer backs the index kinds spec §4.3 leaves "opaque to the
// core beyond the [Maintainer] contract" — vector, fulltext, and spatial.
// The core does not implement embedding generation, tokenization, or
// geometric primitives (spec §1 Non-goals); what it does implement is the
// uniform write-path plumbing any such index needs once a caller has
// already reduced an item to its kind-specific key material. KeyFunc is
// that reduction, supplied by whatever layer owns embeddings/tokenizers/
// geometry — e.g. an ANN index packing `[quantized-vector][pk]`, a
// full-text index packing one key per token `[token][pk]`, or a spatial
// index packing `[geohash-prefix][pk]`.
type OpaqueMaintainer struct {
	Name   string
	Sub    subspace.Subspace
	KeyFunc func(item *Item) [][]byte
}

var _ Maintainer = (*OpaqueMaintainer)(nil)

func (m *OpaqueMaintainer) ComputeIndexKeys(item *Item) [][]byte {
	if m.KeyFunc == nil {
		return nil
	}
	return m.KeyFunc(item)
}

func (m *OpaqueMaintainer) ScanItem(ctx context.Context, txn kv.Txn, item *Item) error {
	for _, k := range m.ComputeIndexKeys(item) {
		txn.SetValue(k, nil)
	}
	return nil
}

func (m *OpaqueMaintainer) UpdateIndex(ctx context.Context, txn kv.Txn, old, new *Item) error {
	var oldKeys, newKeys [][]byte
	if old != nil {
		oldKeys = m.ComputeIndexKeys(old)
	}
	if new != nil {
		newKeys = m.ComputeIndexKeys(new)
	}
	toDelete, toWrite := DiffKeys(oldKeys, newKeys)
	for _, k := range toDelete {
		txn.Clear(k)
	}
	for _, k := range toWrite {
		txn.SetValue(k, nil)
	}
	return nil
}
