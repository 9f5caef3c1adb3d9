// Package builder implements the online index builder of spec §4.4 and its
// index-from-index variant (§4.8): building or rebuilding an index without
// blocking writers, in bounded batches, with adaptive throttling and
// optional sample verification. It generalizes the teacher's
// `eth/stagedsync` staged-sync pipeline — a persisted cursor
// (`StageState.BlockNumber`) advanced batch by batch, each batch committed
// in its own transaction, paired with a symmetric `Unwind*` — from a single
// linear block range into a RangeSet of arbitrary disjoint primary-key
// sub-ranges, since an index build has no natural single cursor the way
// block processing does.
package builder

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// Range is one disjoint, half-open sub-range of the entity's primary-key
// subspace still awaiting (or mid-way through) a scan. Cursor is the last
// key processed within the range, or nil if no progress has been made yet;
// Done marks the range fully scanned (spec §4.4 step 4's
// recordProgress/markRangeComplete).
type Range struct {
	Begin, End []byte
	Cursor     []byte
	Done       bool
}

// jsonRange mirrors Range with base64-friendly []byte fields — encoding/json
// already base64-encodes []byte, so this exists only to give Cursor == nil
// a stable round trip (omitempty would drop a legitimate empty-but-started
// cursor).
type jsonRange struct {
	Begin  []byte `json:"begin"`
	End    []byte `json:"end"`
	Cursor []byte `json:"cursor"`
	Done   bool   `json:"done"`
}

// RangeSet is the persisted worklist of §4.4 step 3: a sorted collection of
// disjoint unprocessed sub-ranges plus per-range cursors. It is rebuilt
// in-memory from its persisted form at the start of a build and re-persisted
// after every batch commit, so a crashed build resumes from the last
// committed batch rather than from scratch.
type RangeSet struct {
	sub    subspace.Subspace
	ranges []Range
}

// NewRangeSet seeds a fresh worklist covering a single range — the entity's
// whole primary-key subspace, for §4.4, or a source index's subspace, for
// §4.8.
func NewRangeSet(sub subspace.Subspace, begin, end []byte) *RangeSet {
	return &RangeSet{
		sub:    sub,
		ranges: []Range{{Begin: begin, End: end}},
	}
}

func (rs *RangeSet) key() []byte {
	return rs.sub.Sub(tuple.String("rangeset")).Bytes()
}

// Persist writes the worklist's current state in txn, alongside whatever
// other writes the caller's batch makes (spec §4.4: "In the same
// transaction ... persist the RangeSet").
func (rs *RangeSet) Persist(txn kv.Txn) error {
	out := make([]jsonRange, len(rs.ranges))
	for i, r := range rs.ranges {
		out[i] = jsonRange{Begin: r.Begin, End: r.End, Cursor: r.Cursor, Done: r.Done}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("builder: marshal rangeset: %w", err)
	}
	txn.SetValue(rs.key(), b)
	return nil
}

// Load replaces the worklist's in-memory state with whatever was last
// persisted under sub, if anything — used to resume an interrupted build.
func Load(txn kv.Txn, sub subspace.Subspace) (*RangeSet, error) {
	rs := &RangeSet{sub: sub}
	v, err := txn.GetValue(rs.key())
	if err != nil {
		return nil, err
	}
	if v == nil {
		return rs, nil
	}
	var in []jsonRange
	if err := json.Unmarshal(v, &in); err != nil {
		return nil, fmt.Errorf("builder: unmarshal rangeset: %w", err)
	}
	rs.ranges = make([]Range, len(in))
	for i, r := range in {
		rs.ranges[i] = Range{Begin: r.Begin, End: r.End, Cursor: r.Cursor, Done: r.Done}
	}
	return rs, nil
}

// Clear removes the persisted worklist entirely (spec §4.4 step 6: "clear
// progress" once the index transitions to readable).
func (rs *RangeSet) Clear(txn kv.Txn) {
	txn.Clear(rs.key())
}

// Empty reports whether every range is marked done — the build-loop
// termination condition of spec §4.4 step 4.
func (rs *RangeSet) Empty() bool {
	for _, r := range rs.ranges {
		if !r.Done {
			return false
		}
	}
	return true
}

// nextIndex returns the index of the first not-done range, or -1.
func (rs *RangeSet) nextIndex() int {
	for i, r := range rs.ranges {
		if !r.Done {
			return i
		}
	}
	return -1
}

// NextBatchBounds picks the next sub-range to scan (spec §4.4
// "nextBatchBounds()"): the first unfinished range's remaining portion,
// starting just past its cursor if one was recorded. beginExclusive tells
// the caller whether begin is the range's original inclusive lower bound or
// a cursor key that must itself be excluded from the scan.
func (rs *RangeSet) NextBatchBounds() (rangeIndex int, begin, end []byte, beginExclusive, ok bool) {
	i := rs.nextIndex()
	if i < 0 {
		return 0, nil, nil, false, false
	}
	r := rs.ranges[i]
	if r.Cursor != nil {
		return i, r.Cursor, r.End, true, true
	}
	return i, r.Begin, r.End, false, true
}

// RecordProgress records the last key processed within rangeIndex without
// marking it complete — used when a batch stops mid-range because it hit
// batchSize (spec §4.4 step 4).
func (rs *RangeSet) RecordProgress(rangeIndex int, lastKey []byte) {
	rs.ranges[rangeIndex].Cursor = append([]byte(nil), lastKey...)
}

// MarkRangeComplete marks rangeIndex fully scanned — used when a batch's
// streamed range returned fewer than batchSize items, i.e. exhausted the
// range (spec §4.4 step 4).
func (rs *RangeSet) MarkRangeComplete(rangeIndex int) {
	rs.ranges[rangeIndex].Done = true
	rs.ranges[rangeIndex].Cursor = nil
}

// Split divides rangeIndex into n roughly equal disjoint sub-ranges by
// byte-interpolating between Begin and End, for callers that want to
// parallelize a single wide range across concurrent batch workers. Run does
// not call it: its batch loop processes batches one after another.
func (rs *RangeSet) Split(rangeIndex, n int) {
	if n < 2 {
		return
	}
	r := rs.ranges[rangeIndex]
	if r.Done {
		return
	}
	cuts := interpolate(r.Begin, r.End, n)
	sub := make([]Range, 0, n)
	prev := r.Begin
	for _, c := range cuts {
		sub = append(sub, Range{Begin: prev, End: c})
		prev = c
	}
	sub = append(sub, Range{Begin: prev, End: r.End})
	rest := append([]Range(nil), rs.ranges[:rangeIndex]...)
	rest = append(rest, sub...)
	rest = append(rest, rs.ranges[rangeIndex+1:]...)
	rs.ranges = rest
}

// interpolate returns n-1 cut points lexicographically between begin and
// end, padding the shorter key with zero bytes so both operands compare at
// equal length before the arithmetic split.
func interpolate(begin, end []byte, n int) [][]byte {
	width := len(begin)
	if len(end) > width {
		width = len(end)
	}
	width += 4
	b := padTo(begin, width)
	e := padTo(end, width)
	bi := new(big.Int).SetBytes(b)
	ei := new(big.Int).SetBytes(e)
	span := new(big.Int).Sub(ei, bi)
	cuts := make([][]byte, 0, n-1)
	for i := 1; i < n; i++ {
		step := new(big.Int).Mul(span, big.NewInt(int64(i)))
		step.Div(step, big.NewInt(int64(n)))
		c := new(big.Int).Add(bi, step)
		cb := c.Bytes()
		padded := make([]byte, width)
		copy(padded[width-len(cb):], cb)
		cuts = append(cuts, padded)
	}
	sort.Slice(cuts, func(i, j int) bool { return kv.KeyLess(cuts[i], cuts[j]) })
	return cuts
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
