package indexing

import (
	"context"

	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// GraphStrategy selects the key layout a graph-kind index uses (spec §4.3).
type GraphStrategy string

const (
	StrategyAdjacency   GraphStrategy = "adjacency"
	StrategyTripleStore GraphStrategy = "tripleStore"
	StrategyHexastore   GraphStrategy = "hexastore"
)

// GraphMaintainer indexes (from, edge, to) triples — or, when GraphField is
// set, (from, edge, to, graph) quads — under one of three layouts. It does
// not use the item's own primary key as part of the index key — the
// triple/quad itself is the identity, matching RDF quad-space semantics.
// A quad's graph component is a real leading subspace segment (see
// PermutationSubspaceInGraph), not a value squeezed into the (s,p,o)
// permutation key, so a query bound to one named graph scans only that
// graph's own key range rather than the whole store.
type GraphMaintainer struct {
	Name     string
	Strategy GraphStrategy
	// FromField, EdgeField, ToField name the item fields holding the
	// subject, predicate, and object values respectively.
	FromField, EdgeField, ToField string
	// GraphField optionally names the item field holding the quad's graph
	// (context) term. Left empty, this maintainer indexes a single
	// ungraphed quad space exactly as before.
	GraphField string
	Sub        subspace.Subspace
}

var _ Maintainer = (*GraphMaintainer)(nil)

// permutation describes one of the six (s,p,o) orderings a hexastore or
// triple-store layout materializes, named the way RDF stores conventionally
// do (spec, tripleStore: spo/pos/osp; hexastore: all six).
type permutation struct {
	name  string
	order [3]int // indices into [s,p,o]
}

var tripleStorePermutations = []permutation{
	{"spo", [3]int{0, 1, 2}},
	{"pos", [3]int{1, 2, 0}},
	{"osp", [3]int{2, 0, 1}},
}

var hexastorePermutations = []permutation{
	{"spo", [3]int{0, 1, 2}},
	{"sop", [3]int{0, 2, 1}},
	{"pso", [3]int{1, 0, 2}},
	{"pos", [3]int{1, 2, 0}},
	{"osp", [3]int{2, 0, 1}},
	{"ops", [3]int{2, 1, 0}},
}

func (m *GraphMaintainer) triple(item *Item) (s, p, o tuple.Element, ok bool) {
	s, ok1 := item.FieldValue(m.FromField)
	p, ok2 := item.FieldValue(m.EdgeField)
	o, ok3 := item.FieldValue(m.ToField)
	return s, p, o, ok1 && ok2 && ok3
}

// quadRoot returns the subspace a quad's permutation keys nest under: the
// maintainer's own Sub when GraphField is unset, or the graph-scoped
// subspace when it is. ok is false when GraphField is set but the item
// carries no value for it.
func (m *GraphMaintainer) quadRoot(item *Item) (root subspace.Subspace, ok bool) {
	if m.GraphField == "" {
		return m.Sub, true
	}
	g, ok := item.FieldValue(m.GraphField)
	if !ok {
		return subspace.Subspace{}, false
	}
	return m.Sub.Sub(tuple.String("g")).Sub(g), true
}

func (m *GraphMaintainer) computeKeys(item *Item) [][]byte {
	s, p, o, ok := m.triple(item)
	if !ok {
		return nil
	}
	root, ok := m.quadRoot(item)
	if !ok {
		return nil
	}
	spo := [3]tuple.Element{s, p, o}

	switch m.Strategy {
	case StrategyAdjacency:
		fwd := root.Sub(tuple.String("fwd")).Pack(tuple.From(s, p, o))
		rev := root.Sub(tuple.String("rev")).Pack(tuple.From(o, p, s))
		return [][]byte{fwd, rev}
	case StrategyTripleStore:
		return packPermutations(root, spo, tripleStorePermutations)
	case StrategyHexastore:
		return packPermutations(root, spo, hexastorePermutations)
	default:
		return nil
	}
}

func packPermutations(sub subspace.Subspace, spo [3]tuple.Element, perms []permutation) [][]byte {
	keys := make([][]byte, 0, len(perms))
	for _, perm := range perms {
		elems := tuple.From(spo[perm.order[0]], spo[perm.order[1]], spo[perm.order[2]])
		keys = append(keys, sub.Sub(tuple.String(perm.name)).Pack(elems))
	}
	return keys
}

func (m *GraphMaintainer) ComputeIndexKeys(item *Item) [][]byte { return m.computeKeys(item) }

func (m *GraphMaintainer) ScanItem(ctx context.Context, txn kv.Txn, item *Item) error {
	for _, k := range m.computeKeys(item) {
		txn.SetValue(k, nil)
	}
	return nil
}

func (m *GraphMaintainer) UpdateIndex(ctx context.Context, txn kv.Txn, old, new *Item) error {
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

// PermutationSubspace returns the child subspace for a named permutation
// ("fwd"/"rev" for adjacency; "spo"/"pos"/... for triple/hexastore),
// letting the query planner pick whichever permutation best matches a
// bound/free (s,p,o) pattern (spec §4.6).
func (m *GraphMaintainer) PermutationSubspace(name string) subspace.Subspace {
	return m.Sub.Sub(tuple.String(name))
}

// PermutationSubspaceInGraph is PermutationSubspace scoped to one named
// graph: the key range a `GRAPH <g> { ... }` pattern's triples actually
// live under when this maintainer was configured with a GraphField. A scan
// bound to this subspace never touches another graph's quads, the real
// per-graph isolation spec §9's open question mandates over silently
// ignoring the graph term.
func (m *GraphMaintainer) PermutationSubspaceInGraph(name string, graph tuple.Element) subspace.Subspace {
	return m.Sub.Sub(tuple.String("g")).Sub(graph).Sub(tuple.String(name))
}

// AvailablePermutations lists the permutation names this maintainer
// materializes, for the planner to choose among.
func (m *GraphMaintainer) AvailablePermutations() []string {
	switch m.Strategy {
	case StrategyAdjacency:
		return []string{"fwd", "rev"}
	case StrategyTripleStore:
		return names(tripleStorePermutations)
	case StrategyHexastore:
		return names(hexastorePermutations)
	default:
		return nil
	}
}

func names(perms []permutation) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.name
	}
	return out
}
