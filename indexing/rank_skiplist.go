package indexing

import (
	"context"
	"fmt"

	"github.com/ledgerwatch/coreindex/errs"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/skiplist"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// RankSkipListMaintainer implements the "rank (skip list)" index kind (spec
// §4.5): the O(log n) rank/topK/percentile sibling of RankMaintainer's flat
// scan-backed "rank (simple)". Unlike every other maintainer in this
// package, Insert/Delete bookkeeping touches a variable, height-dependent
// set of keys per entry, so ScanItem/UpdateIndex call the skip list's own
// Insert/Delete directly instead of going through ComputeIndexKeys/DiffKeys
// — ComputeIndexKeys still reports a single representative leaf key, for
// callers (e.g. the builder's sample verifier) that only need an existence
// probe.
type RankSkipListMaintainer struct {
	Name      string
	Field     string
	Sub       subspace.Subspace
	Sparse    bool
	MaxLevels int
}

var _ Maintainer = (*RankSkipListMaintainer)(nil)

func (m *RankSkipListMaintainer) list() *skiplist.List {
	return &skiplist.List{Sub: m.Sub, MaxLevels: m.MaxLevels}
}

func (m *RankSkipListMaintainer) scoreOf(item *Item) (int64, tuple.Tuple, bool) {
	v, ok := item.FieldValue(m.Field)
	if !ok {
		return 0, nil, false
	}
	score, ok := extractScore(v)
	if !ok {
		return 0, nil, false
	}
	return score, item.PK, true
}

func (m *RankSkipListMaintainer) ComputeIndexKeys(item *Item) [][]byte {
	score, pk, ok := m.scoreOf(item)
	if !ok {
		return nil
	}
	return [][]byte{m.list().LeafKey(score, pk)}
}

func (m *RankSkipListMaintainer) ScanItem(ctx context.Context, txn kv.Txn, item *Item) error {
	score, pk, ok := m.scoreOf(item)
	if !ok {
		if !m.Sparse {
			return fmt.Errorf("indexing: rank-skiplist field %q: %w", m.Field, errs.InvalidScore)
		}
		return nil
	}
	return m.list().Insert(ctx, txn, score, pk)
}

func (m *RankSkipListMaintainer) UpdateIndex(ctx context.Context, txn kv.Txn, old, new *Item) error {
	var oldScore, newScore int64
	var oldPK, newPK tuple.Tuple
	var haveOld, haveNew bool
	if old != nil {
		oldScore, oldPK, haveOld = m.scoreOf(old)
	}
	if new != nil {
		newScore, newPK, haveNew = m.scoreOf(new)
		if !haveNew && !m.Sparse {
			return fmt.Errorf("indexing: rank-skiplist field %q: %w", m.Field, errs.InvalidScore)
		}
	}
	if haveOld && haveNew && oldScore == newScore && tuple.Compare(oldPK, newPK) == 0 {
		return nil
	}
	list := m.list()
	if haveOld {
		if err := list.Delete(ctx, txn, oldScore, oldPK); err != nil {
			return err
		}
	}
	if haveNew {
		if err := list.Insert(ctx, txn, newScore, newPK); err != nil {
			return err
		}
	}
	return nil
}

// Count, Rank, TopK, Percentile, and ValidateSpanIntegrity expose the skip
// list's query surface (spec §4.5) through the maintainer, so callers never
// need to reach past it into the skiplist package directly.

func (m *RankSkipListMaintainer) Count(txn kv.Txn) (int64, error) { return m.list().Count(txn) }

func (m *RankSkipListMaintainer) Rank(ctx context.Context, txn kv.Txn, score int64, pk tuple.Tuple) (int64, error) {
	return m.list().Rank(ctx, txn, score, pk)
}

func (m *RankSkipListMaintainer) TopK(ctx context.Context, txn kv.Txn, k int) ([]skiplist.Entry, error) {
	return m.list().TopK(ctx, txn, k)
}

func (m *RankSkipListMaintainer) Percentile(ctx context.Context, txn kv.Txn, p float64) (int64, error) {
	return m.list().Percentile(ctx, txn, p)
}

func (m *RankSkipListMaintainer) ValidateSpanIntegrity(ctx context.Context, txn kv.Txn) error {
	return m.list().ValidateSpanIntegrity(ctx, txn)
}
