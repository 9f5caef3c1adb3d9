package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/ledgerwatch/coreindex/catalog"
	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// Execute walks a plan tree built by Plan and runs it against txn — the
// fluent-query counterpart to sparql.Execute's walk over a SPARQL *Plan
// (spec §4.6's read path, named but never implemented in the distilled
// spec). decode turns a raw primary-subspace value back into an Item; it
// mirrors indexing.Upsert/Delete's own DecodeFunc for the same reason: only
// the storage layer knows its own wire encoding.
func Execute(ctx context.Context, txn kv.Txn, cat *catalog.Catalog, reg *indexing.Registry, primary subspace.Subspace, typeName string, decode indexing.DecodeFunc, root *PlanNode) ([]*indexing.Item, error) {
	return execNode(ctx, txn, cat, reg, primary, typeName, decode, root)
}

func execNode(ctx context.Context, txn kv.Txn, cat *catalog.Catalog, reg *indexing.Registry, primary subspace.Subspace, typeName string, decode indexing.DecodeFunc, n *PlanNode) ([]*indexing.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch n.Kind {
	case OpIndexScan:
		return execIndexScan(ctx, txn, cat, reg, primary, decode, typeName, n)
	case OpPrimaryFetch:
		if len(n.Children) == 0 {
			return fullScan(ctx, txn, primary, decode)
		}
		return execNode(ctx, txn, cat, reg, primary, typeName, decode, n.Children[0])
	case OpFilter:
		items, err := execNode(ctx, txn, cat, reg, primary, typeName, decode, n.Children[0])
		if err != nil {
			return nil, err
		}
		out := items[:0]
		for _, it := range items {
			if n.Predicate.Evaluate(it.FieldValue) {
				out = append(out, it)
			}
		}
		return out, nil
	case OpSort:
		items, err := execNode(ctx, txn, cat, reg, primary, typeName, decode, n.Children[0])
		if err != nil {
			return nil, err
		}
		sortItems(items, n.OrderTerms)
		return items, nil
	case OpDistinct:
		items, err := execNode(ctx, txn, cat, reg, primary, typeName, decode, n.Children[0])
		if err != nil {
			return nil, err
		}
		return distinctItems(items), nil
	case OpLimit:
		items, err := execNode(ctx, txn, cat, reg, primary, typeName, decode, n.Children[0])
		if err != nil {
			return nil, err
		}
		if n.N < len(items) {
			items = items[:n.N]
		}
		return items, nil
	case OpOffset:
		items, err := execNode(ctx, txn, cat, reg, primary, typeName, decode, n.Children[0])
		if err != nil {
			return nil, err
		}
		if n.N >= len(items) {
			return nil, nil
		}
		return items[n.N:], nil
	case OpUnion:
		var all []*indexing.Item
		seen := map[string]bool{}
		for _, c := range n.Children {
			items, err := execNode(ctx, txn, cat, reg, primary, typeName, decode, c)
			if err != nil {
				return nil, err
			}
			for _, it := range items {
				key := string(it.PK.Pack())
				if seen[key] {
					continue
				}
				seen[key] = true
				all = append(all, it)
			}
		}
		return all, nil
	default:
		return nil, fmt.Errorf("query: unhandled plan node %s", n.Kind)
	}
}

// execIndexScan resolves an indexScan node's bound equality prefix against
// the registered maintainer's RangeReader, then fetches and decodes each
// matching primary key's value out of the primary subspace.
func execIndexScan(ctx context.Context, txn kv.Txn, cat *catalog.Catalog, reg *indexing.Registry, primary subspace.Subspace, decode indexing.DecodeFunc, typeName string, n *PlanNode) ([]*indexing.Item, error) {
	entity, err := cat.Entity(typeName)
	if err != nil {
		return nil, err
	}
	var idx *catalog.IndexDescriptor
	for i := range entity.Indexes {
		if entity.Indexes[i].Name == n.IndexName {
			idx = &entity.Indexes[i]
			break
		}
	}
	if idx == nil {
		return nil, fmt.Errorf("query: index %s not found on entity %s", n.IndexName, typeName)
	}
	m, ok := reg.Lookup(typeName, n.IndexName)
	if !ok {
		return nil, fmt.Errorf("query: no maintainer registered for %s.%s", typeName, n.IndexName)
	}
	reader, ok := m.(indexing.RangeReader)
	if !ok {
		return nil, fmt.Errorf("query: index %s.%s does not support range scans", typeName, n.IndexName)
	}

	values := equalityPrefix(n.Predicate, idx.Fields)
	rows, err := reader.ScanEqual(ctx, txn, values)
	if err != nil {
		return nil, err
	}

	arity := entity.PrimaryKeyArity()
	items := make([]*indexing.Item, 0, len(rows))
	for _, row := range rows {
		pk := row
		if arity > 0 && arity < len(row) {
			pk = row[len(row)-arity:]
		}
		raw, found, err := indexing.LoadItemValue(txn, primary, pk)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		item, err := decode(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// equalityPrefix returns the longest leading run of fields for which pred
// carries an exact equality leaf, in fields order — the same "stop at the
// first uncovered field" rule bestIndexFor uses to score a candidate index.
func equalityPrefix(pred Predicate, fields []string) tuple.Tuple {
	leaves := map[string]Predicate{}
	collectLeaves(pred, leaves)
	values := make(tuple.Tuple, 0, len(fields))
	for _, f := range fields {
		leaf, ok := leaves[f]
		if !ok || leaf.Comparator != Eq {
			break
		}
		values = append(values, leaf.Operand)
	}
	return values
}

func collectLeaves(p Predicate, out map[string]Predicate) {
	if p.isLeaf() {
		if p.Field != "" {
			out[p.Field] = p
		}
		return
	}
	for _, c := range p.Children {
		collectLeaves(c, out)
	}
}

// fullScan decodes every item in the primary subspace — the execution of
// the filter-fallback plan produced when no registered index covers a
// predicate's fields.
func fullScan(ctx context.Context, txn kv.Txn, primary subspace.Subspace, decode indexing.DecodeFunc) ([]*indexing.Item, error) {
	begin, end := primary.Range()
	it := txn.GetRange(kv.FirstGreaterOrEqual(begin), kv.FirstGreaterOrEqual(end), kv.StreamWantAll)
	var items []*indexing.Item
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pk, err := primary.Unpack(it.KV().Key)
		if err != nil {
			return nil, err
		}
		raw, found, err := indexing.LoadItemValue(txn, primary, pk)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		item, err := decode(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func distinctItems(items []*indexing.Item) []*indexing.Item {
	seen := map[string]bool{}
	out := items[:0]
	for _, it := range items {
		key := string(it.PK.Pack())
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

func sortItems(items []*indexing.Item, terms []OrderTerm) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, t := range terms {
			vi, _ := items[i].FieldValue(t.Field)
			vj, _ := items[j].FieldValue(t.Field)
			c := tuple.Compare(tuple.Tuple{vi}, tuple.Tuple{vj})
			if c == 0 {
				continue
			}
			if t.Direction == Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
