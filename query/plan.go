package query

import (
	"fmt"
	"strings"

	"github.com/ledgerwatch/coreindex/catalog"
)

// OperatorKind names the plan-tree node kinds of spec §4.6.
type OperatorKind string

const (
	OpIndexScan    OperatorKind = "indexScan"
	OpPrimaryFetch OperatorKind = "primaryFetch"
	OpFilter       OperatorKind = "filter"
	OpSort         OperatorKind = "sort"
	OpDistinct     OperatorKind = "distinct"
	OpLimit        OperatorKind = "limit"
	OpOffset       OperatorKind = "offset"
	OpUnion        OperatorKind = "union" // fans in one sub-plan per DNF disjunct
)

// PlanNode is one operator in the plan tree, with an estimated cardinality
// for explain() (spec §4.6: "explain() returns a human-readable tree
// including estimated cardinalities").
type PlanNode struct {
	Kind          OperatorKind
	IndexName     string // set for indexScan
	Predicate     Predicate
	OrderTerms    []OrderTerm
	N             int // limit/offset argument
	EstimatedRows float64
	Children      []*PlanNode
}

// costModel's constants are the per-row costs spec §4.6 names only
// abstractly ("row count estimate × per-row cost minus any selectivity
// credit for sparse indexes"); these values are not load-bearing for
// correctness, only for plan choice between roughly-comparable candidates.
const (
	indexScanRowCost   = 1.0
	primaryFetchCost   = 4.0
	sparseCredit       = 0.7
	fullScanEstimate   = 1_000_000.0
	equalitySelectivity = 0.02
	rangeSelectivity    = 0.2
)

// Plan lowers a Query into a plan tree, given the candidate indexes
// available for its entity (spec §4.6's planner). Sort and Distinct wrap the
// disjunct plans, and Limit/Offset are always the outermost nodes; the tree
// records no push-down decision.
func Plan(q queryShape, indexes []catalog.IndexDescriptor) *PlanNode {
	disjuncts := ToDNF(q.predicate())
	branches := make([]*PlanNode, 0, len(disjuncts))
	for _, d := range disjuncts {
		branches = append(branches, planConjunct(d, indexes))
	}
	var root *PlanNode
	if len(branches) == 1 {
		root = branches[0]
	} else {
		total := 0.0
		for _, b := range branches {
			total += b.EstimatedRows
		}
		root = &PlanNode{Kind: OpUnion, Children: branches, EstimatedRows: total}
	}

	// Spec §4.6: "When ORDER BY or DISTINCT is present, LIMIT/OFFSET cannot
	// be pushed into the pattern phase; otherwise they are." Either way the
	// plan tree ends up with Limit/Offset as its outermost nodes — the
	// difference this rule actually describes is an execution-engine
	// concern (whether the scan stops early), not a shape difference in
	// the tree itself, so both paths converge here.
	if len(q.orderTerms()) > 0 {
		root = &PlanNode{Kind: OpSort, OrderTerms: q.orderTerms(), Children: []*PlanNode{root}, EstimatedRows: root.EstimatedRows}
	}
	if q.distinct() {
		root = &PlanNode{Kind: OpDistinct, Children: []*PlanNode{root}, EstimatedRows: root.EstimatedRows}
	}
	return applyLimitOffset(root, q)
}

func applyLimitOffset(root *PlanNode, q queryShape) *PlanNode {
	if q.hasOffset() {
		root = &PlanNode{Kind: OpOffset, N: q.offsetN(), Children: []*PlanNode{root}, EstimatedRows: root.EstimatedRows}
	}
	if q.hasLimit() {
		est := root.EstimatedRows
		if n := float64(q.limitN()); n < est {
			est = n
		}
		root = &PlanNode{Kind: OpLimit, N: q.limitN(), Children: []*PlanNode{root}, EstimatedRows: est}
	}
	return root
}

// queryShape is the minimal read-only view Plan needs out of a Query[T];
// defined so Plan itself stays non-generic (a *PlanNode is the same shape
// no matter which T a Query was built with).
type queryShape interface {
	predicate() Predicate
	orderTerms() []OrderTerm
	distinct() bool
	hasLimit() bool
	limitN() int
	hasOffset() bool
	offsetN() int
}

func (q *Query[T]) predicate() Predicate    { return q.Pred }
func (q *Query[T]) orderTerms() []OrderTerm { return q.Order }
func (q *Query[T]) distinct() bool          { return q.DistinctResults }
func (q *Query[T]) hasLimit() bool          { return q.HasLimit }
func (q *Query[T]) limitN() int             { return q.LimitN }
func (q *Query[T]) hasOffset() bool         { return q.HasOffset }
func (q *Query[T]) offsetN() int            { return q.OffsetN }

// Distinct marks the query as requiring deduplication, per spec §4.6's
// DISTINCT/REDUCED execution stage.
func (q *Query[T]) Distinct() *Query[T] {
	q.DistinctResults = true
	return q
}

// planConjunct picks the single best index for one AND-only disjunct by the
// cost model, or falls back to a full primary scan plus a filter when no
// registered index covers any of its leaves.
func planConjunct(conjunct Predicate, indexes []catalog.IndexDescriptor) *PlanNode {
	best, bestRows := bestIndexFor(conjunct, indexes)
	if best == nil {
		return &PlanNode{
			Kind:          OpFilter,
			Predicate:     conjunct,
			EstimatedRows: fullScanEstimate,
			Children:      []*PlanNode{{Kind: OpPrimaryFetch, EstimatedRows: fullScanEstimate}},
		}
	}
	scan := &PlanNode{Kind: OpIndexScan, IndexName: best.Name, Predicate: conjunct, EstimatedRows: bestRows}
	remaining := residualPredicate(conjunct, best.Fields)
	fetch := &PlanNode{Kind: OpPrimaryFetch, Children: []*PlanNode{scan}, EstimatedRows: bestRows}
	if len(remaining.Children) == 0 {
		return fetch
	}
	return &PlanNode{Kind: OpFilter, Predicate: remaining, Children: []*PlanNode{fetch}, EstimatedRows: bestRows}
}

// bestIndexFor scores every candidate index against conjunct's equality/
// range leaves and returns the lowest-cost match, or nil if no index has a
// leaf of conjunct on its leading field (an index matches only through a
// leading run of its fields).
func bestIndexFor(conjunct Predicate, indexes []catalog.IndexDescriptor) (best *catalog.IndexDescriptor, bestRows float64) {
	leaves := map[string]Predicate{}
	for _, c := range conjunct.Children {
		if c.isLeaf() {
			leaves[c.Field] = c
		}
	}
	bestCost := -1.0
	for i := range indexes {
		idx := &indexes[i]
		matched := 0
		rows := fullScanEstimate
		for _, f := range idx.Fields {
			leaf, ok := leaves[f]
			if !ok {
				break
			}
			matched++
			switch leaf.Comparator {
			case Eq:
				rows *= equalitySelectivity
			case Lt, Lte, Gt, Gte:
				rows *= rangeSelectivity
			default:
				rows *= rangeSelectivity
			}
		}
		if matched == 0 {
			continue
		}
		cost := rows * indexScanRowCost
		if idx.Sparse {
			cost *= sparseCredit
		}
		if bestCost < 0 || cost < bestCost {
			bestCost, bestRows, best = cost, rows, idx
		}
	}
	return best, bestRows
}

// residualPredicate returns the sub-conjunct of leaves the chosen index's
// Fields did not already satisfy exactly (equality only) — these still need
// a post-fetch filter.
func residualPredicate(conjunct Predicate, coveredFields []string) Predicate {
	covered := map[string]bool{}
	for _, f := range coveredFields {
		covered[f] = true
	}
	var residual []Predicate
	for _, c := range conjunct.Children {
		if c.isLeaf() && covered[c.Field] && c.Comparator == Eq {
			continue
		}
		residual = append(residual, c)
	}
	return And(residual...)
}

// Explain renders the plan tree as an indented, human-readable string with
// estimated cardinalities (spec §4.6's explain()).
func Explain(root *PlanNode) string {
	var b strings.Builder
	explainNode(&b, root, 0)
	return b.String()
}

func explainNode(b *strings.Builder, n *PlanNode, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	switch n.Kind {
	case OpIndexScan:
		fmt.Fprintf(b, "indexScan(%s) est=%.0f pred=%s\n", n.IndexName, n.EstimatedRows, n.Predicate.String())
	case OpFilter:
		fmt.Fprintf(b, "filter(%s) est=%.0f\n", n.Predicate.String(), n.EstimatedRows)
	case OpLimit, OpOffset:
		fmt.Fprintf(b, "%s(%d) est=%.0f\n", n.Kind, n.N, n.EstimatedRows)
	case OpSort:
		fmt.Fprintf(b, "sort(%v) est=%.0f\n", n.OrderTerms, n.EstimatedRows)
	default:
		fmt.Fprintf(b, "%s est=%.0f\n", n.Kind, n.EstimatedRows)
	}
	for _, c := range n.Children {
		explainNode(b, c, depth+1)
	}
}
