package indexing

import (
	"context"

	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// RelationshipMaintainer implements the "relationship" index kind: an
// unlabeled many-to-many link between two fields of the same item (e.g.
// "follows", "memberOf"), stored both forward and reverse so either side
// can be looked up by equality-prefix scan. It is the graph maintainer's
// adjacency strategy minus the edge label — spec §4.3 leaves
// "relationship" opaque beyond the maintainer contract, and this is the
// natural specialization once an edge has no predicate of its own.
type RelationshipMaintainer struct {
	Name               string
	FromField, ToField string
	Sub                subspace.Subspace
}

var _ Maintainer = (*RelationshipMaintainer)(nil)

func (m *RelationshipMaintainer) computeKeys(item *Item) [][]byte {
	from, ok1 := item.FieldValue(m.FromField)
	to, ok2 := item.FieldValue(m.ToField)
	if !ok1 || !ok2 {
		return nil
	}
	fwd := m.Sub.Sub(tuple.String("fwd")).Pack(tuple.From(from, to))
	rev := m.Sub.Sub(tuple.String("rev")).Pack(tuple.From(to, from))
	return [][]byte{fwd, rev}
}

func (m *RelationshipMaintainer) ComputeIndexKeys(item *Item) [][]byte { return m.computeKeys(item) }

func (m *RelationshipMaintainer) ScanItem(ctx context.Context, txn kv.Txn, item *Item) error {
	for _, k := range m.computeKeys(item) {
		txn.SetValue(k, nil)
	}
	return nil
}

func (m *RelationshipMaintainer) UpdateIndex(ctx context.Context, txn kv.Txn, old, new *Item) error {
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

// Related returns every value the other side of fromField/toField links to
// from a bound value, by scanning whichever direction subspace matches.
func (m *RelationshipMaintainer) Related(ctx context.Context, txn kv.Txn, direction string, bound tuple.Element) ([]tuple.Element, error) {
	sub := m.Sub.Sub(tuple.String(direction))
	prefix := sub.Pack(tuple.From(bound))
	begin, end := kv.PrefixRange(prefix)
	it := txn.GetRange(kv.FirstGreaterOrEqual(begin), kv.FirstGreaterOrEqual(end), kv.StreamWantAll)
	var out []tuple.Element
	for it.Next() {
		t, err := sub.Unpack(it.KV().Key)
		if err != nil || len(t) < 2 {
			continue
		}
		out = append(out, t[1])
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
