package indexing

import (
	"context"
	"fmt"
	"math"

	"github.com/ledgerwatch/coreindex/errs"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// RankMaintainer implements the "rank (simple)" index kind (spec §4.4):
// `[subspace/scores][score][pk] = ∅` plus an atomic `[subspace]/_count`
// counter held as a sibling key outside the scores range, so a range scan
// over scores never observes the counter itself. It
// trades the skip-list's O(log n) rank/topK for a flat scan-backed
// implementation, adequate for the common case. RankSkipListMaintainer is a
// separate index kind and does not delegate to this one.
//
// Score narrowing: per SPEC_FULL.md's resolution of the open "unsafe
// force-cast" question, extractScore saturates rather than rejects or
// wraps — an indexed value outside int64's range clamps to
// math.MaxInt64/math.MinInt64 instead of erroring, so a single
// out-of-range write cannot abort an otherwise-valid batch.
type RankMaintainer struct {
	Name   string
	Field  string
	Sub    subspace.Subspace // root subspace: Sub/"scores"/... and Sub/"_count"
	Sparse bool
}

var _ Maintainer = (*RankMaintainer)(nil)

func (m *RankMaintainer) scoresSub() subspace.Subspace {
	return m.Sub.Sub(tuple.String("scores"))
}

func (m *RankMaintainer) countKey() []byte {
	return m.Sub.Sub(tuple.String("_count")).Bytes()
}

// extractScore converts the indexed field's value to the int64 domain the
// scores subspace sorts on, saturating on overflow (see type doc).
func extractScore(v tuple.Element) (int64, bool) {
	if i, ok := v.AsInt(); ok {
		return i, true
	}
	if f, ok := v.AsFloat(); ok {
		if f >= math.MaxInt64 {
			return math.MaxInt64, true
		}
		if f <= math.MinInt64 {
			return math.MinInt64, true
		}
		return int64(f), true
	}
	return 0, false
}

func (m *RankMaintainer) scoreKey(score int64, pk tuple.Tuple) []byte {
	elems := make(tuple.Tuple, 0, len(pk)+1)
	elems = append(elems, tuple.Int(score))
	elems = append(elems, pk...)
	return m.scoresSub().Pack(elems)
}

func (m *RankMaintainer) computeKey(item *Item) ([]byte, bool) {
	v, ok := item.FieldValue(m.Field)
	if !ok {
		return nil, false
	}
	score, ok := extractScore(v)
	if !ok {
		return nil, false
	}
	return m.scoreKey(score, item.PK), true
}

func (m *RankMaintainer) ComputeIndexKeys(item *Item) [][]byte {
	if k, ok := m.computeKey(item); ok {
		return [][]byte{k}
	}
	return nil
}

func (m *RankMaintainer) ScanItem(ctx context.Context, txn kv.Txn, item *Item) error {
	k, ok := m.computeKey(item)
	if !ok {
		if !m.Sparse {
			return fmt.Errorf("indexing: rank field %q: %w", m.Field, errs.InvalidScore)
		}
		return nil
	}
	txn.SetValue(k, nil)
	txn.AtomicOp(m.countKey(), leAdd(1), kv.AtomicAdd)
	return nil
}

func (m *RankMaintainer) UpdateIndex(ctx context.Context, txn kv.Txn, old, new *Item) error {
	var oldKey, newKey []byte
	var haveOld, haveNew bool
	if old != nil {
		oldKey, haveOld = m.computeKey(old)
	}
	if new != nil {
		newKey, haveNew = m.computeKey(new)
		if !haveNew && !m.Sparse {
			return fmt.Errorf("indexing: rank field %q: %w", m.Field, errs.InvalidScore)
		}
	}
	if haveOld && haveNew && string(oldKey) == string(newKey) {
		return nil
	}
	if haveOld {
		txn.Clear(oldKey)
		txn.AtomicOp(m.countKey(), leAdd(-1), kv.AtomicAdd)
	}
	if haveNew {
		txn.SetValue(newKey, nil)
		txn.AtomicOp(m.countKey(), leAdd(1), kv.AtomicAdd)
	}
	return nil
}

// Count returns the current `_count` value (spec P5 count consistency).
func (m *RankMaintainer) Count(txn kv.Txn) (int64, error) {
	raw, err := txn.GetValue(m.countKey())
	if err != nil {
		return 0, err
	}
	return leDecodeSigned(raw), nil
}

// RankEntry is one scored (score, pk) pair as returned by Rank and TopK.
type RankEntry struct {
	Score int64
	PK    tuple.Tuple
}

// Rank returns the number of entries with strictly higher score than score
// (spec P7): descending rank, 0 = highest score. Implemented as a forward
// scan from the first key scored above score to the end of the scores
// subspace, adequate for the flat (non-skip-list) layout.
func (m *RankMaintainer) Rank(ctx context.Context, txn kv.Txn, score int64) (int64, error) {
	if score == math.MaxInt64 {
		return 0, nil
	}
	_, end := m.scoresSub().Range()
	boundary := m.scoreKey(score+1, nil)
	it := txn.GetRange(kv.FirstGreaterOrEqual(boundary), kv.FirstGreaterOrEqual(end), kv.StreamWantAll)
	var n int64
	for it.Next() {
		n++
	}
	if err := it.Err(); err != nil {
		return 0, err
	}
	return n, nil
}

// TopK returns the k highest-scored entries, ties broken by descending
// primary key (SPEC_FULL.md's resolution of the "tie-break order" open
// question), using the bounded min-heap strategy of spec §4.5's TopKHeap
// over one ascending scan of the whole scores subspace.
func (m *RankMaintainer) TopK(ctx context.Context, txn kv.Txn, k int) ([]RankEntry, error) {
	if k <= 0 {
		return nil, nil
	}
	h := newTopKHeap(k)
	scores := m.scoresSub()
	begin, end := scores.Range()
	it := txn.GetRange(kv.FirstGreaterOrEqual(begin), kv.FirstGreaterOrEqual(end), kv.StreamWantAll)
	for it.Next() {
		key := it.KV().Key
		t, err := scores.Unpack(key)
		if err != nil {
			continue
		}
		if len(t) == 0 {
			continue
		}
		score, ok := t[0].AsInt()
		if !ok {
			continue
		}
		h.offer(RankEntry{Score: score, PK: append(tuple.Tuple(nil), t[1:]...)})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return h.drainDescending(), nil
}

func leAdd(v int64) []byte {
	b := make([]byte, 8)
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * uint(i)))
	}
	return b
}

func leDecodeSigned(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	var u uint64
	for i := 0; i < len(b) && i < 8; i++ {
		u |= uint64(b[i]) << (8 * uint(i))
	}
	return int64(u)
}

// topKHeap is a bounded min-heap over RankEntry keyed by (score, pk), the
// "accept if size < k; else replace root if new > min" strategy of spec
// §4.5's TopKHeap, with descending-PK as the tie-break.
type topKHeap struct {
	k       int
	entries []RankEntry
}

func newTopKHeap(k int) *topKHeap { return &topKHeap{k: k} }

// less reports whether a ranks lower than b under the heap's ordering
// (higher score wins; on a score tie, the entry with the smaller PK ranks
// lower so that descending-PK wins ties at the top).
func (h *topKHeap) less(a, b RankEntry) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return tuple.Compare(a.PK, b.PK) < 0
}

func (h *topKHeap) offer(e RankEntry) {
	if len(h.entries) < h.k {
		h.entries = append(h.entries, e)
		h.up(len(h.entries) - 1)
		return
	}
	if h.less(h.entries[0], e) {
		h.entries[0] = e
		h.down(0)
	}
}

func (h *topKHeap) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(h.entries[i], h.entries[parent]) {
			return
		}
		h.entries[i], h.entries[parent] = h.entries[parent], h.entries[i]
		i = parent
	}
}

func (h *topKHeap) down(i int) {
	n := len(h.entries)
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < n && h.less(h.entries[left], h.entries[smallest]) {
			smallest = left
		}
		if right < n && h.less(h.entries[right], h.entries[smallest]) {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.entries[i], h.entries[smallest] = h.entries[smallest], h.entries[i]
		i = smallest
	}
}

// drainDescending empties the heap into descending (score, pk) order —
// i.e. the public topK ordering.
func (h *topKHeap) drainDescending() []RankEntry {
	out := make([]RankEntry, len(h.entries))
	for i := len(h.entries) - 1; i >= 0; i-- {
		out[i] = h.entries[0]
		last := len(h.entries) - 1
		h.entries[0] = h.entries[last]
		h.entries = h.entries[:last]
		h.down(0)
	}
	return out
}
