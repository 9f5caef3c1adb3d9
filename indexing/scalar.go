package indexing

import (
	"context"
	"fmt"

	"github.com/ledgerwatch/coreindex/errs"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// ScalarMaintainer implements both the "scalar" and "composite" index kinds
// (spec §4.3): a single index subspace keyed by
// `[subspace][field-values…][pk] = ∅`. A single-field descriptor and a
// multi-field descriptor use the exact same maintainer — "composite" is
// just a scalar index over more than one field.
type ScalarMaintainer struct {
	Name   string
	Fields []string
	Sub    subspace.Subspace
	Unique bool
	Sparse bool
}

var _ Maintainer = (*ScalarMaintainer)(nil)

// computeKeys returns the packed index keys (without the value) this item
// would occupy, or nil if a sparse maintainer hits a null field.
func (m *ScalarMaintainer) computeKeys(item *Item) [][]byte {
	elems := make(tuple.Tuple, 0, len(m.Fields)+len(item.PK))
	for _, f := range m.Fields {
		v, ok := item.FieldValue(f)
		if !ok {
			if m.Sparse {
				return nil
			}
			v = tuple.Null()
		}
		elems = append(elems, v)
	}
	elems = append(elems, item.PK...)
	return [][]byte{m.Sub.Pack(elems)}
}

func (m *ScalarMaintainer) ComputeIndexKeys(item *Item) [][]byte { return m.computeKeys(item) }

// fieldElems returns the field-value elements this item contributes to the
// index key, excluding the trailing primary key, or nil if sparse and the
// item has a null indexed field.
func (m *ScalarMaintainer) fieldElems(item *Item) tuple.Tuple {
	elems := make(tuple.Tuple, 0, len(m.Fields))
	for _, f := range m.Fields {
		v, ok := item.FieldValue(f)
		if !ok {
			if m.Sparse {
				return nil
			}
			v = tuple.Null()
		}
		elems = append(elems, v)
	}
	return elems
}

func (m *ScalarMaintainer) ScanItem(ctx context.Context, txn kv.Txn, item *Item) error {
	if m.Unique {
		if fields := m.fieldElems(item); fields != nil || !m.Sparse {
			if err := m.checkUnique(txn, fields, item.PK); err != nil {
				return err
			}
		}
	}
	for _, k := range m.computeKeys(item) {
		txn.SetValue(k, nil)
	}
	return nil
}

func (m *ScalarMaintainer) UpdateIndex(ctx context.Context, txn kv.Txn, old, new *Item) error {
	var oldKeys, newKeys [][]byte
	if old != nil {
		oldKeys = m.computeKeys(old)
	}
	if new != nil {
		newKeys = m.computeKeys(new)
	}
	toDelete, toWrite := DiffKeys(oldKeys, newKeys)

	if m.Unique && new != nil && len(toWrite) > 0 {
		if fields := m.fieldElems(new); fields != nil || !m.Sparse {
			if err := m.checkUnique(txn, fields, new.PK); err != nil {
				return err
			}
		}
	}
	for _, k := range toDelete {
		txn.Clear(k)
	}
	for _, k := range toWrite {
		txn.SetValue(k, nil)
	}
	return nil
}

// ScanEqual implements RangeReader: it returns, for every index key whose
// leading fields exactly match values, the remaining tuple elements —
// any of m.Fields not covered by values, followed by the primary key — in
// index key order. values may be a strict prefix of m.Fields (a
// partial-field equality scan), mirroring checkUnique's own prefix-scan
// shape. Callers that supplied values covering every field in m.Fields get
// back exactly the primary key tuple; callers matching a shorter prefix use
// the entity's declared PrimaryKeyArity to split the trailing PK off the
// result, the same convention PrimaryKeyFromIndexKey uses.
func (m *ScalarMaintainer) ScanEqual(ctx context.Context, txn kv.Txn, values tuple.Tuple) ([]tuple.Tuple, error) {
	prefix := m.Sub.Pack(values)
	begin, end := kv.PrefixRange(prefix)
	it := txn.GetRange(kv.FirstGreaterOrEqual(begin), kv.FirstGreaterOrEqual(end), kv.StreamWantAll)
	var pks []tuple.Tuple
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rest := it.KV().Key[len(prefix):]
		pk, err := tuple.Unpack(rest)
		if err != nil {
			return nil, fmt.Errorf("indexing: scan %s: %w", m.Name, err)
		}
		pks = append(pks, pk)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return pks, nil
}

// checkUnique scans every key sharing fieldElems's prefix (i.e. every
// primary key currently indexed under the same field-value combination);
// if one is found that is not pk itself, fails with a unique-violation
// error (spec §4.3 Uniqueness enforcement, I3).
func (m *ScalarMaintainer) checkUnique(txn kv.Txn, fieldElems tuple.Tuple, pk tuple.Tuple) error {
	prefix := m.Sub.Pack(fieldElems)
	begin, end := kv.PrefixRange(prefix)
	it := txn.GetRange(kv.FirstGreaterOrEqual(begin), kv.FirstGreaterOrEqual(end), kv.StreamWantAll)
	pkBytes := pk.Pack()
	for it.Next() {
		got := it.KV().Key
		gotPK := got[len(prefix):]
		if string(gotPK) != string(pkBytes) {
			return fmt.Errorf("indexing: %w", &errs.UniqueViolationError{IndexName: m.Name, ExistingPK: fmt.Sprintf("%x", gotPK)})
		}
	}
	return it.Err()
}
