package query

import "github.com/ledgerwatch/coreindex/tuple"

// Direction names an ORDER BY direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// CachePolicy names how a query's result set should interact with the
// preload cache (spec §4.10); the query layer only carries the choice, the
// `preload` package implements it.
type CachePolicy int

const (
	CacheBypass CachePolicy = iota
	CacheRead
	CacheReadThrough
)

// OrderTerm is one ORDER BY clause term.
type OrderTerm struct {
	Field     string
	Direction Direction
}

// Query is the type-safe, entity-bound query chain of spec §4.6:
// `.where().orderBy().limit().offset().partition().cachePolicy()`. It is
// generic over the entity's resolved row type so callers get compile-time
// field safety at the call site that constructs predicates, while the
// predicate tree itself (Predicate) stays untyped internally — the same
// split the teacher's `core/state` uses between typed accessors
// (`GetBalance`) and the untyped trie/bucket storage underneath.
type Query[T any] struct {
	EntityType string
	Pred       Predicate
	Order      []OrderTerm
	LimitN     int
	OffsetN    int
	HasLimit   bool
	HasOffset  bool
	Partitions      map[string]tuple.Element
	Cache           CachePolicy
	DistinctResults bool

	hasPred bool
}

// New starts a query chain bound to entityType.
func New[T any](entityType string) *Query[T] {
	return &Query[T]{EntityType: entityType, Partitions: map[string]tuple.Element{}}
}

// Where conjoins p with any predicate already on the chain — repeated
// calls behave like successive `.and(...)`.
func (q *Query[T]) Where(p Predicate) *Query[T] {
	if !q.hasPred {
		q.Pred, q.hasPred = p, true
		return q
	}
	q.Pred = And(q.Pred, p)
	return q
}

func (q *Query[T]) OrderBy(field string, dir Direction) *Query[T] {
	q.Order = append(q.Order, OrderTerm{Field: field, Direction: dir})
	return q
}

func (q *Query[T]) Limit(n int) *Query[T] {
	q.LimitN, q.HasLimit = n, true
	return q
}

func (q *Query[T]) Offset(n int) *Query[T] {
	q.OffsetN, q.HasOffset = n, true
	return q
}

func (q *Query[T]) Partition(field string, equals tuple.Element) *Query[T] {
	q.Partitions[field] = equals
	return q
}

func (q *Query[T]) CachePolicy(p CachePolicy) *Query[T] {
	q.Cache = p
	return q
}
