// Package indexing implements the index-maintainer framework of spec §4.3:
// the uniform per-index write-path/read-path contract, and one maintainer
// per index kind. It generalizes the teacher's `core/state/db_state_writer.go`
// pattern — `UpdateAccountData(ctx, address, original, account)` reading an
// old value, computing a new one, and fanning out writes to several derived
// structures (current-state bucket, change-set writer, preimage writer,
// caches) — into a named contract any index kind can implement.
package indexing

import (
	"bytes"

	"github.com/ledgerwatch/coreindex/catalog"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// Item is a resolved record: its primary key tuple plus its field values
// (spec §3). A field absent from Values is treated as null for sparse-index
// purposes (I2).
type Item struct {
	PK     tuple.Tuple
	Values map[string]tuple.Element
}

// FieldValue returns the named field's value, or (zero, false) if the item
// has no value for it (including an explicit tuple.Null()).
func (it *Item) FieldValue(name string) (tuple.Element, bool) {
	v, ok := it.Values[name]
	if !ok || v.IsNull() {
		return tuple.Element{}, false
	}
	return v, true
}

// PrimaryKeyFromIndexKey returns the trailing PrimaryKeyArity elements of a
// packed index key as the item's primary key, per SPEC_FULL.md's resolution
// of the index-from-index "assumes last element is PK" open question: the
// entity's declared arity is consulted, not a hardcoded position.
func PrimaryKeyFromIndexKey(e *catalog.Entity, packed []byte, sub subspace.Subspace) (tuple.Tuple, error) {
	t, err := sub.Unpack(packed)
	if err != nil {
		return nil, err
	}
	arity := e.PrimaryKeyArity()
	if arity > len(t) {
		arity = len(t)
	}
	return t[len(t)-arity:], nil
}

// KeyEqual reports whether two packed keys are byte-identical — the
// equality test used throughout the maintainer framework to diff old vs.
// new key sets (spec §4.3 "Must be idempotent when old == new").
func KeyEqual(a, b []byte) bool { return bytes.Equal(a, b) }

// DiffKeys returns the keys present only in oldKeys (to delete) and only in
// newKeys (to write), used by every maintainer's UpdateIndex.
func DiffKeys(oldKeys, newKeys [][]byte) (toDelete, toWrite [][]byte) {
	oldSet := make(map[string]struct{}, len(oldKeys))
	for _, k := range oldKeys {
		oldSet[string(k)] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newKeys))
	for _, k := range newKeys {
		newSet[string(k)] = struct{}{}
	}
	for _, k := range oldKeys {
		if _, ok := newSet[string(k)]; !ok {
			toDelete = append(toDelete, k)
		}
	}
	for _, k := range newKeys {
		if _, ok := oldSet[string(k)]; !ok {
			toWrite = append(toWrite, k)
		}
	}
	return toDelete, toWrite
}
