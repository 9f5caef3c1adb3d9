package indexing

import (
	"context"

	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/tuple"
)

// Maintainer is the uniform per-index contract of spec §4.3. Every index
// kind — scalar, composite, permuted, graph, rank, aggregation, version,
// bitmap, and the opaque kinds (vector/fulltext/spatial/leaderboard/
// relationship) — implements it directly; per spec §9's re-architecture
// guidance this replaces an inheritance hierarchy
// (`SubspaceIndexMaintainer` refining `IndexMaintainer`) with flat
// composition: one concrete struct per maintainer holding its own subspace.
type Maintainer interface {
	// UpdateIndex emits deletions for keys implied by oldItem and writes
	// for keys implied by newItem. Either may be nil (insert: old==nil;
	// delete: new==nil). Must be idempotent when old and new imply the
	// same key set.
	UpdateIndex(ctx context.Context, txn kv.Txn, old, new *Item) error

	// ScanItem is the write-only form used during online build and bulk
	// load (spec §4.4): it never reads, only writes the keys newItem
	// implies.
	ScanItem(ctx context.Context, txn kv.Txn, item *Item) error

	// ComputeIndexKeys is a pure function (no I/O) returning the exact set
	// of keys this item would occupy, used by the builder's verifier and
	// by property-based tests (spec P2).
	ComputeIndexKeys(item *Item) [][]byte
}

// RangeReader is the read-side counterpart to Maintainer's write-only
// contract: implemented by maintainers whose index subspace can be scanned
// for primary keys matching a bound prefix of field values. Not every
// maintainer exposes one (a GraphMaintainer's adjacency layout isn't a
// simple field-prefix scan); callers type-assert for it and fall back to a
// full primary scan when it is absent.
type RangeReader interface {
	// ScanEqual returns the tuple elements following a key prefix built
	// from values, in index key order — see ScalarMaintainer.ScanEqual for
	// the exact split between remaining index fields and primary key.
	ScanEqual(ctx context.Context, txn kv.Txn, values tuple.Tuple) ([]tuple.Tuple, error)
}

// Registry maps each entity's index names to their concrete Maintainer
// instances. Per spec §9, per-entity dispatch is resolved once at
// catalog-load time into a flat map rather than paying virtual dispatch on
// every write.
type Registry struct {
	// byEntityIndex maps "typeName.indexName" to its maintainer instance.
	byEntityIndex map[string]Maintainer
}

func NewRegistry() *Registry {
	return &Registry{byEntityIndex: make(map[string]Maintainer)}
}

func (r *Registry) Register(typeName, indexName string, m Maintainer) {
	r.byEntityIndex[typeName+"."+indexName] = m
}

func (r *Registry) Lookup(typeName, indexName string) (Maintainer, bool) {
	m, ok := r.byEntityIndex[typeName+"."+indexName]
	return m, ok
}

// ForEntity returns the maintainers registered for typeName under the given
// indexNames, in indexNames order; names with no registered maintainer are
// skipped.
func (r *Registry) ForEntity(typeName string, indexNames []string) []Maintainer {
	out := make([]Maintainer, 0, len(indexNames))
	for _, name := range indexNames {
		if m, ok := r.byEntityIndex[typeName+"."+name]; ok {
			out = append(out, m)
		}
	}
	return out
}
