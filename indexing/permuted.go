package indexing

import (
	"context"

	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// PermutedMaintainer stores every permutation of the indexed fields (or a
// chosen subset) so any prefix-equality pattern hits some permutation
// (spec §4.3). Each permutation gets its own child subspace keyed by its
// index into Permutations, so two permutations of the same field set never
// collide.
type PermutedMaintainer struct {
	Name         string
	Fields       []string
	Permutations [][]int // each entry indexes into Fields
	Sub          subspace.Subspace
	Sparse       bool
}

var _ Maintainer = (*PermutedMaintainer)(nil)

// AllPermutations generates every permutation of n field positions, the
// default when a permuted index descriptor does not restrict to a subset.
func AllPermutations(n int) [][]int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	var out [][]int
	var permute func(k int)
	permute = func(k int) {
		if k == n {
			cp := append([]int(nil), idx...)
			out = append(out, cp)
			return
		}
		for i := k; i < n; i++ {
			idx[k], idx[i] = idx[i], idx[k]
			permute(k + 1)
			idx[k], idx[i] = idx[i], idx[k]
		}
	}
	permute(0)
	return out
}

func (m *PermutedMaintainer) computeKeys(item *Item) [][]byte {
	values := make([]tuple.Element, len(m.Fields))
	for i, f := range m.Fields {
		v, ok := item.FieldValue(f)
		if !ok {
			if m.Sparse {
				return nil
			}
			v = tuple.Null()
		}
		values[i] = v
	}
	keys := make([][]byte, 0, len(m.Permutations))
	for permIdx, perm := range m.Permutations {
		elems := make(tuple.Tuple, 0, len(perm)+len(item.PK)+1)
		elems = append(elems, tuple.Int(int64(permIdx)))
		for _, fieldPos := range perm {
			elems = append(elems, values[fieldPos])
		}
		elems = append(elems, item.PK...)
		keys = append(keys, m.Sub.Pack(elems))
	}
	return keys
}

func (m *PermutedMaintainer) ComputeIndexKeys(item *Item) [][]byte { return m.computeKeys(item) }

func (m *PermutedMaintainer) ScanItem(ctx context.Context, txn kv.Txn, item *Item) error {
	for _, k := range m.computeKeys(item) {
		txn.SetValue(k, nil)
	}
	return nil
}

func (m *PermutedMaintainer) UpdateIndex(ctx context.Context, txn kv.Txn, old, new *Item) error {
	var oldKeys, newKeys [][]byte
	if old != nil {
		oldKeys = m.computeKeys(old)
	}
	if new != nil {
		newKeys = m.computeKeys(new)
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
