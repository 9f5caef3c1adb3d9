package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/coreindex/catalog"
	"github.com/ledgerwatch/coreindex/tuple"
)

func fieldValues(values map[string]tuple.Element) func(string) (tuple.Element, bool) {
	return func(name string) (tuple.Element, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestPredicateEvaluateLeafComparators(t *testing.T) {
	values := fieldValues(map[string]tuple.Element{"age": tuple.Int(30), "name": tuple.String("alice")})

	require.True(t, Where("age", Eq, tuple.Int(30), nil).Evaluate(values))
	require.False(t, Where("age", Eq, tuple.Int(31), nil).Evaluate(values))
	require.True(t, Where("age", Gt, tuple.Int(20), nil).Evaluate(values))
	require.True(t, Where("age", Lte, tuple.Int(30), nil).Evaluate(values))
	require.True(t, Where("name", HasPrefix, tuple.String("ali"), nil).Evaluate(values))
	require.True(t, Where("name", Contains, tuple.String("lic"), nil).Evaluate(values))
	require.True(t, WhereIn("age", []tuple.Element{tuple.Int(10), tuple.Int(30)}).Evaluate(values))
	require.False(t, WhereIn("age", []tuple.Element{tuple.Int(10), tuple.Int(20)}).Evaluate(values))
}

func TestPredicateEvaluateMissingFieldIsNilOnly(t *testing.T) {
	values := fieldValues(map[string]tuple.Element{})
	require.True(t, WhereNil("missing").Evaluate(values))
	require.False(t, Where("missing", Eq, tuple.Int(1), nil).Evaluate(values))
}

func TestPredicateEvaluateBooleanCombinators(t *testing.T) {
	values := fieldValues(map[string]tuple.Element{"age": tuple.Int(30)})
	young := Where("age", Lt, tuple.Int(18), nil)
	adult := Where("age", Gte, tuple.Int(18), nil)

	require.True(t, And(adult, Not(young)).Evaluate(values))
	require.True(t, Or(young, adult).Evaluate(values))
	require.False(t, And(young, adult).Evaluate(values))
}

func TestCustomEvaluatorOverridesTaggedFallback(t *testing.T) {
	values := fieldValues(map[string]tuple.Element{"age": tuple.Int(30)})
	always := Where("age", Eq, tuple.Int(999), func(v tuple.Element) bool { return true })
	require.True(t, always.Evaluate(values))
}

func TestToDNFDistributesOrOverAnd(t *testing.T) {
	a := Where("a", Eq, tuple.Int(1), nil)
	b := Where("b", Eq, tuple.Int(2), nil)
	c := Where("c", Eq, tuple.Int(3), nil)

	// (a or b) and c  ==  (a and c) or (b and c)
	p := And(Or(a, b), c)
	disjuncts := ToDNF(p)
	require.Len(t, disjuncts, 2)
	for _, d := range disjuncts {
		require.Equal(t, OpAnd, d.Op)
		require.Len(t, d.Children, 2)
	}
}

func TestToDNFPushesNotThroughAndViaDeMorgan(t *testing.T) {
	a := Where("a", Eq, tuple.Int(1), nil)
	b := Where("b", Eq, tuple.Int(2), nil)

	// not(a and b) == not(a) or not(b)
	p := Not(And(a, b))
	disjuncts := ToDNF(p)
	require.Len(t, disjuncts, 2)
	require.Equal(t, Neq, disjuncts[0].Children[0].Comparator)
	require.Equal(t, Neq, disjuncts[1].Children[0].Comparator)
}

func TestQueryChainBuildsWhereOrderLimitOffset(t *testing.T) {
	q := New[struct{}]("widget").
		Where(Where("color", Eq, tuple.String("red"), nil)).
		Where(Where("price", Lt, tuple.Int(100), nil)).
		OrderBy("price", Ascending).
		Limit(10).
		Offset(5).
		Distinct()

	require.Equal(t, OpAnd, q.Pred.Op)
	require.Len(t, q.Pred.Children, 2)
	require.Equal(t, []OrderTerm{{Field: "price", Direction: Ascending}}, q.Order)
	require.True(t, q.HasLimit)
	require.Equal(t, 10, q.LimitN)
	require.True(t, q.HasOffset)
	require.Equal(t, 5, q.OffsetN)
	require.True(t, q.DistinctResults)
}

func TestPlanChoosesIndexScanWhenFieldIsIndexed(t *testing.T) {
	q := New[struct{}]("widget").Where(Where("color", Eq, tuple.String("red"), nil))
	indexes := []catalog.IndexDescriptor{{Name: "by_color", Fields: []string{"color"}}}

	root := Plan(q, indexes)
	require.Equal(t, OpPrimaryFetch, root.Kind)
	require.Len(t, root.Children, 1)
	require.Equal(t, OpIndexScan, root.Children[0].Kind)
	require.Equal(t, "by_color", root.Children[0].IndexName)
}

func TestPlanFallsBackToFilterWhenNoIndexCoversField(t *testing.T) {
	q := New[struct{}]("widget").Where(Where("unindexed", Eq, tuple.String("x"), nil))
	root := Plan(q, nil)
	require.Equal(t, OpFilter, root.Kind)
	require.Equal(t, OpPrimaryFetch, root.Children[0].Kind)
}

func TestPlanWrapsWithSortLimitOffset(t *testing.T) {
	q := New[struct{}]("widget").
		Where(Where("color", Eq, tuple.String("red"), nil)).
		OrderBy("price", Descending).
		Limit(5).
		Offset(2)
	indexes := []catalog.IndexDescriptor{{Name: "by_color", Fields: []string{"color"}}}

	root := Plan(q, indexes)
	require.Equal(t, OpLimit, root.Kind)
	require.Equal(t, 5, root.N)
	offsetNode := root.Children[0]
	require.Equal(t, OpOffset, offsetNode.Kind)
	require.Equal(t, 2, offsetNode.N)
	require.Equal(t, OpSort, offsetNode.Children[0].Kind)
}

func TestPlanUnionsMultipleDisjuncts(t *testing.T) {
	a := Where("color", Eq, tuple.String("red"), nil)
	b := Where("color", Eq, tuple.String("blue"), nil)
	q := New[struct{}]("widget").Where(Or(a, b))
	indexes := []catalog.IndexDescriptor{{Name: "by_color", Fields: []string{"color"}}}

	root := Plan(q, indexes)
	require.Equal(t, OpUnion, root.Kind)
	require.Len(t, root.Children, 2)
}

func TestExplainRendersIndexedPlan(t *testing.T) {
	q := New[struct{}]("widget").Where(Where("color", Eq, tuple.String("red"), nil)).Limit(3)
	indexes := []catalog.IndexDescriptor{{Name: "by_color", Fields: []string{"color"}}}
	root := Plan(q, indexes)

	out := Explain(root)
	require.Contains(t, out, "limit(3)")
	require.Contains(t, out, "indexScan(by_color)")
}
