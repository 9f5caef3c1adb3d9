// Package skiplist implements the span-counter skip list backing the
// "rank (skip list)" index kind (spec §4.5): an ordered (score, pk) set
// supporting O(log n) insert, delete, rank, and top-k, built entirely out of
// point and short range reads against the same kv.Txn every other index
// kind uses — there is no in-process pointer structure, since every "node"
// is just a handful of key/value pairs under the caller's subspace.
//
// Layout, matching spec §4.5 exactly:
//
//	leaf/[score][pk]          -> {count: 1}           (every entry, dense)
//	level/[L]/[score][pk]     -> {count: span}        (L >= 1, thinned)
//	headSpan/[L]              -> u64                  (span from head, all L)
//	_count                    -> i64
//	_numLevels                -> i64
//
// Span accounting. The value stored at a node's level-L entry is the number
// of leaf (level-0) entries its forward link at level L "covers": for an
// interior node that is the distance to the next level-L node; for the
// level's last node it is the distance to the end of the list (a virtual
// tail), so every node — including the last — always has a well-defined
// span. headSpan[L] is the number of leaf entries strictly before the first
// level-L entry (or the full count if level L is empty). This makes
// invariant I4 — headSpan[L] + sum(span[L][*].count) == _count — hold
// exactly for every level, including level 0 (headSpan[0] is always 0 and
// every leaf span is always 1).
package skiplist

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/ledgerwatch/coreindex/errs"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/metrics"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// DefaultMaxLevels caps the tower height a single entry can grow to (spec
// §4.5), bounding both per-node write fan-out and the depth of the level
// directory.
const DefaultMaxLevels = 16

// List is one span-counter skip list rooted at Sub. MaxLevels defaults to
// DefaultMaxLevels when zero.
type List struct {
	Sub       subspace.Subspace
	MaxLevels int

	// Metrics, when non-nil, receives insert/delete/rebalance counts and
	// the current level count.
	Metrics *metrics.Metrics
}

func (l *List) maxLevels() int {
	if l.MaxLevels <= 0 {
		return DefaultMaxLevels
	}
	return l.MaxLevels
}

// Entry is one (score, pk) pair as returned by Rank/TopK walks.
type Entry struct {
	Score int64
	PK    tuple.Tuple
}

func nodeTuple(score int64, pk tuple.Tuple) tuple.Tuple {
	t := make(tuple.Tuple, 0, len(pk)+1)
	t = append(t, tuple.Int(score))
	t = append(t, pk...)
	return t
}

// LeafKey returns the dense level-0 key for (score, pk), usable as a
// representative existence-probe key by a caller that only needs to know
// whether an entry is present, not walk the list.
func (l *List) LeafKey(score int64, pk tuple.Tuple) []byte {
	return l.levelSub(0).Pack(nodeTuple(score, pk))
}

func (l *List) levelSub(level int) subspace.Subspace {
	if level == 0 {
		return l.Sub.Sub(tuple.String("leaf"))
	}
	return l.Sub.Sub(tuple.String("level")).Sub(tuple.Int(int64(level)))
}

func (l *List) headSpanKey(level int) []byte {
	return l.Sub.Sub(tuple.String("headSpan")).Pack(tuple.From(tuple.Int(int64(level))))
}

func (l *List) countKey() []byte      { return l.Sub.Sub(tuple.String("_count")).Bytes() }
func (l *List) numLevelsKey() []byte  { return l.Sub.Sub(tuple.String("_numLevels")).Bytes() }

func leEncode(v int64) []byte {
	b := make([]byte, 8)
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * uint(i)))
	}
	return b
}

func leDecode(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	var u uint64
	for i := 0; i < len(b) && i < 8; i++ {
		u |= uint64(b[i]) << (8 * uint(i))
	}
	return int64(u)
}

// assignTopLevel picks the highest level index (inclusive, 0-based) a node
// participates in, via a deterministic hash of pk rather than a runtime RNG
// (DESIGN.md's resolution of "random or deterministic level assignment":
// a deterministic function of pk makes insert and delete independently
// recompute the same tower height without persisting it per node, and keeps
// rebuilds reproducible). The distribution approximates geometric p=1/2 by
// counting the hash's low-order run of set bits.
func assignTopLevel(pk tuple.Tuple, maxLevels int) int {
	h := fnv.New64a()
	h.Write(pk.Pack())
	x := h.Sum64()
	level := 0
	for x&1 == 1 && level < maxLevels-1 {
		level++
		x >>= 1
	}
	return level
}

func (l *List) NumLevels(txn kv.Txn) (int, error) {
	raw, err := txn.GetValue(l.numLevelsKey())
	if err != nil {
		return 0, err
	}
	n := leDecode(raw)
	if n == 0 {
		return 1, nil
	}
	return int(n), nil
}

func (l *List) setNumLevels(txn kv.Txn, n int) {
	txn.SetValue(l.numLevelsKey(), leEncode(int64(n)))
}

// Count returns the current element count (_count).
func (l *List) Count(txn kv.Txn) (int64, error) {
	raw, err := txn.GetValue(l.countKey())
	if err != nil {
		return 0, err
	}
	return leDecode(raw), nil
}

func (l *List) setCount(txn kv.Txn, n int64) { txn.SetValue(l.countKey(), leEncode(n)) }

func (l *List) getHeadSpan(txn kv.Txn, level int) (int64, error) {
	raw, err := txn.GetValue(l.headSpanKey(level))
	if err != nil {
		return 0, err
	}
	return leDecode(raw), nil
}

func (l *List) setHeadSpan(txn kv.Txn, level int, v int64) {
	txn.SetValue(l.headSpanKey(level), leEncode(v))
}

func (l *List) getNodeSpan(txn kv.Txn, level int, score int64, pk tuple.Tuple) (int64, error) {
	raw, err := txn.GetValue(l.levelSub(level).Pack(nodeTuple(score, pk)))
	if err != nil {
		return 0, err
	}
	return leDecode(raw), nil
}

func (l *List) setNodeSpan(txn kv.Txn, level int, score int64, pk tuple.Tuple, v int64) {
	txn.SetValue(l.levelSub(level).Pack(nodeTuple(score, pk)), leEncode(v))
}

// nodePos is one position reached during a descent: either the virtual head
// or a real (score, pk) node.
type nodePos struct {
	isHead bool
	score  int64
	pk     tuple.Tuple
}

var headPos = nodePos{isHead: true}

func realPos(score int64, pk tuple.Tuple) nodePos { return nodePos{score: score, pk: pk} }

// rawSpan reads pos's own stored span at level, as persisted — headSpan[level]
// for the head, or the node's own level-L entry for a real node.
func (l *List) rawSpan(txn kv.Txn, level int, pos nodePos) (int64, error) {
	if pos.isHead {
		return l.getHeadSpan(txn, level)
	}
	return l.getNodeSpan(txn, level, pos.score, pos.pk)
}

func (l *List) setRawSpan(txn kv.Txn, level int, pos nodePos, v int64) {
	if pos.isHead {
		l.setHeadSpan(txn, level, v)
		return
	}
	l.setNodeSpan(txn, level, pos.score, pos.pk, v)
}

// linkSpan is rawSpan adjusted for rank accumulation during a descent: the
// head's stored span counts leaves strictly before the first entry
// ("exclusive"), so stepping past the head consumes one more leaf position
// than its raw value states. Real nodes need no adjustment, since their
// stored span already counts the destination leaf itself ("inclusive").
func (l *List) linkSpan(txn kv.Txn, level int, pos nodePos) (int64, error) {
	raw, err := l.rawSpan(txn, level, pos)
	if err != nil {
		return 0, err
	}
	if pos.isHead {
		return raw + 1, nil
	}
	return raw, nil
}

// peekNext returns the next real node strictly after pos at level, if any.
func (l *List) peekNext(txn kv.Txn, level int, pos nodePos) (nodePos, bool, error) {
	sub := l.levelSub(level)
	var begin kv.KeySelector
	if pos.isHead {
		b, _ := sub.Range()
		begin = kv.FirstGreaterOrEqual(b)
	} else {
		begin = kv.FirstGreaterThan(sub.Pack(nodeTuple(pos.score, pos.pk)))
	}
	_, end := sub.Range()
	it := txn.GetRange(begin, kv.FirstGreaterOrEqual(end), kv.StreamWantAll)
	if !it.Next() {
		return nodePos{}, false, it.Err()
	}
	row := it.KV()
	t, err := sub.Unpack(row.Key)
	if err != nil || len(t) == 0 {
		return nodePos{}, false, err
	}
	score, ok := t[0].AsInt()
	if !ok {
		return nodePos{}, false, fmt.Errorf("skiplist: corrupt level entry at level %d", level)
	}
	return realPos(score, append(tuple.Tuple(nil), t[1:]...)), true, nil
}

// compareTo orders pos against a (score, pk) target; pos.isHead always
// compares less than any real target.
func (pos nodePos) compareTo(score int64, pk tuple.Tuple) int {
	if pos.isHead {
		return -1
	}
	if pos.score != score {
		if pos.score < score {
			return -1
		}
		return 1
	}
	return tuple.Compare(pos.pk, pk)
}

// descendResult captures, per level, the predecessor reached and the
// cumulative leaf-rank at that predecessor (0 for the head).
type descendResult struct {
	pred []nodePos
	rank []int64
}

// descend walks every level from numLevels-1 down to 0, advancing at each
// level while advance reports true, accumulating the leaf rank via
// linkSpan(cur). This is the one traversal primitive Insert, Delete, Rank,
// TopK, and Percentile all build on. advance sees the current rank (the
// leaf-rank of cur, the position the walk would be at if it stopped now),
// the span stepping past cur would add, and the next node it would land on.
func (l *List) descend(txn kv.Txn, numLevels int, advance func(level int, rank, stepSpan int64, next nodePos) bool) (*descendResult, error) {
	res := &descendResult{pred: make([]nodePos, numLevels), rank: make([]int64, numLevels)}
	cur := headPos
	var rank int64
	for level := numLevels - 1; level >= 0; level-- {
		for {
			next, ok, err := l.peekNext(txn, level, cur)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			span, err := l.linkSpan(txn, level, cur)
			if err != nil {
				return nil, err
			}
			if !advance(level, rank, span, next) {
				break
			}
			rank += span
			cur = next
		}
		res.pred[level] = cur
		res.rank[level] = rank
	}
	return res, nil
}

// descendToKey finds, per level, the last node strictly less than (score,
// pk) — the classic skip-list predecessor search used by Insert, Delete,
// and the key-addressed form of Rank.
func (l *List) descendToKey(txn kv.Txn, numLevels int, score int64, pk tuple.Tuple) (*descendResult, error) {
	return l.descend(txn, numLevels, func(level int, rank, stepSpan int64, next nodePos) bool {
		return next.compareTo(score, pk) < 0
	})
}

// descendToRank finds, per level, the last node whose leaf-rank does not
// exceed targetRank — the rank-addressed search TopK and Percentile use to
// locate the cut point without knowing the key at that position in advance.
func (l *List) descendToRank(txn kv.Txn, numLevels int, targetRank int64) (*descendResult, error) {
	return l.descend(txn, numLevels, func(level int, rank, stepSpan int64, next nodePos) bool {
		return rank+stepSpan <= targetRank
	})
}

// Insert adds (score, pk) to the list, maintaining every touched span
// counter per spec §4.5: for levels the new node joins, the predecessor's
// outbound span splits into (predecessor→new) and (new→old-successor); for
// levels above the new node's height, the covering link's span just grows
// by one to account for the extra leaf now inside it.
func (l *List) Insert(ctx context.Context, txn kv.Txn, score int64, pk tuple.Tuple) error {
	numLevels, err := l.NumLevels(txn)
	if err != nil {
		return err
	}
	total, err := l.Count(txn)
	if err != nil {
		return err
	}
	height := assignTopLevel(pk, l.maxLevels()) + 1

	if height > numLevels {
		for lvl := numLevels; lvl < height; lvl++ {
			l.setHeadSpan(txn, lvl, total)
		}
		numLevels = height
		l.setNumLevels(txn, numLevels)
		if l.Metrics != nil {
			l.Metrics.SkiplistRebalances.Inc()
			l.Metrics.SkiplistHeight.Set(float64(numLevels))
		}
	}

	res, err := l.descendToKey(txn, numLevels, score, pk)
	if err != nil {
		return err
	}
	r0 := res.rank[0]

	for level := 0; level < numLevels; level++ {
		pred := res.pred[level]
		oldSpan, err := l.rawSpan(txn, level, pred)
		if err != nil {
			return err
		}
		if level < height {
			delta := r0 - res.rank[level]
			var newNodeSpan, predNewSpan int64
			if pred.isHead {
				newNodeSpan = oldSpan - delta + 1
				predNewSpan = delta
			} else {
				newNodeSpan = oldSpan - delta
				predNewSpan = delta + 1
			}
			l.setRawSpan(txn, level, pred, predNewSpan)
			l.setNodeSpan(txn, level, score, pk, newNodeSpan)
		} else {
			l.setRawSpan(txn, level, pred, oldSpan+1)
		}
	}

	l.setCount(txn, total+1)
	if l.Metrics != nil {
		l.Metrics.SkiplistInserts.Inc()
	}
	return nil
}

// Delete removes (score, pk), merging each touched predecessor's span with
// the removed node's own outbound span (levels it participated in) or
// simply shrinking the covering link by one (levels above its height) —
// the exact inverse bookkeeping of Insert.
func (l *List) Delete(ctx context.Context, txn kv.Txn, score int64, pk tuple.Tuple) error {
	numLevels, err := l.NumLevels(txn)
	if err != nil {
		return err
	}
	height := assignTopLevel(pk, l.maxLevels()) + 1
	if height > numLevels {
		height = numLevels
	}

	res, err := l.descendToKey(txn, numLevels, score, pk)
	if err != nil {
		return err
	}

	for level := 0; level < numLevels; level++ {
		pred := res.pred[level]
		predOld, err := l.rawSpan(txn, level, pred)
		if err != nil {
			return err
		}
		if level < height {
			targetSpan, err := l.getNodeSpan(txn, level, score, pk)
			if err != nil {
				return err
			}
			l.setRawSpan(txn, level, pred, predOld+targetSpan-1)
			txn.Clear(l.levelSub(level).Pack(nodeTuple(score, pk)))
		} else {
			l.setRawSpan(txn, level, pred, predOld-1)
		}
	}

	total, err := l.Count(txn)
	if err != nil {
		return err
	}
	l.setCount(txn, total-1)
	if l.Metrics != nil {
		l.Metrics.SkiplistRemovals.Inc()
	}
	return nil
}

// Rank returns the descending rank of (score, pk) — 0 for the highest entry
// — via the 0-based ascending count of strictly-smaller entries the
// key-addressed descent accumulates at level 0 (spec §4.5 Rank(score, pk)).
func (l *List) Rank(ctx context.Context, txn kv.Txn, score int64, pk tuple.Tuple) (int64, error) {
	numLevels, err := l.NumLevels(txn)
	if err != nil {
		return 0, err
	}
	res, err := l.descendToKey(txn, numLevels, score, pk)
	if err != nil {
		return 0, err
	}
	total, err := l.Count(txn)
	if err != nil {
		return 0, err
	}
	return total - 1 - res.rank[0], nil
}

// TopK returns the k highest-scored entries in descending order: descend to
// the node at leaf-rank total-k, then forward-scan k leaves and reverse
// (spec §4.5 TopK(k)).
func (l *List) TopK(ctx context.Context, txn kv.Txn, k int) ([]Entry, error) {
	if k <= 0 {
		return nil, nil
	}
	numLevels, err := l.NumLevels(txn)
	if err != nil {
		return nil, err
	}
	total, err := l.Count(txn)
	if err != nil {
		return nil, err
	}
	if int64(k) > total {
		k = int(total)
	}
	if k == 0 {
		return nil, nil
	}
	targetRank := total - int64(k)
	res, err := l.descendToRank(txn, numLevels, targetRank)
	if err != nil {
		return nil, err
	}

	cur := res.pred[0]
	out := make([]Entry, 0, k)
	for len(out) < k {
		next, ok, err := l.peekNext(txn, 0, cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, Entry{Score: next.score, PK: next.pk})
		cur = next
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Percentile returns the score at the p-th percentile (p in [0,1], 0.0 =
// lowest, 1.0 = highest) by reusing TopK: targetRank =
// floor(totalCount·(1−p)) entries rank above the answer, so it is the last
// entry of TopK(targetRank+1) (spec §4.5 Percentile(p)).
func (l *List) Percentile(ctx context.Context, txn kv.Txn, p float64) (int64, error) {
	total, err := l.Count(txn)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, fmt.Errorf("skiplist: percentile of empty list: %w", errs.NotFound)
	}
	targetRank := int64(math.Floor(float64(total) * (1 - p)))
	k := targetRank + 1
	if k < 1 {
		k = 1
	}
	entries, err := l.TopK(ctx, txn, int(k))
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("skiplist: percentile of empty list: %w", errs.NotFound)
	}
	return entries[len(entries)-1].Score, nil
}

// ValidateSpanIntegrity checks invariant I4 — headSpan[L] + sum(span) ==
// _count — for every level, the consistency check spec §4.5 names as the
// skip list's self-verification hook (used by the builder's sample
// verification pass and by tests).
func (l *List) ValidateSpanIntegrity(ctx context.Context, txn kv.Txn) error {
	numLevels, err := l.NumLevels(txn)
	if err != nil {
		return err
	}
	total, err := l.Count(txn)
	if err != nil {
		return err
	}
	for level := 0; level < numLevels; level++ {
		sum, err := l.getHeadSpan(txn, level)
		if err != nil {
			return err
		}
		cur := headPos
		for {
			next, ok, err := l.peekNext(txn, level, cur)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			span, err := l.getNodeSpan(txn, level, next.score, next.pk)
			if err != nil {
				return err
			}
			sum += span
			cur = next
		}
		if sum != total {
			return fmt.Errorf("skiplist: span integrity violated at level %d: got %d want %d: %w", level, sum, total, errs.InvalidStructure)
		}
	}
	return nil
}
