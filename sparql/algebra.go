// Package sparql implements spec §4.6's GraphPatternConverter and graph
// query execution: a total function from a SPARQL-shaped pattern AST to an
// execution algebra, property-path evaluation, and BGP/join/property-path
// execution over a `graph`-kind index (indexing.GraphMaintainer). It
// generalizes the teacher's one-shot log-filter matching
// (`eth/filters/filter.go`'s bound/free topic-slot matching against a bloom
// index) into the general bound/free triple-pattern matching a graph query
// needs across arbitrarily many joined triples.
package sparql

import "github.com/ledgerwatch/coreindex/tuple"

// Term is one position of a triple pattern: a bound value, an unbound
// variable (spec §4.6: "variables retain their ? prefix"), or — per
// RDF-star — a quoted triple used as a term in its own right. Exactly one
// of Var/Value/Quoted is meaningful per spec §9's open-question
// resolution: a quotedTriple term is preserved as this structured field,
// never collapsed to a stringified "<<s p o>>" form.
type Term struct {
	Var    string // non-empty when unbound
	Value  tuple.Element
	Quoted *Triple // non-nil for an RDF-star quoted-triple term
}

func Bound(v tuple.Element) Term { return Term{Value: v} }
func Var(name string) Term       { return Term{Var: name} }

// QuotedTerm wraps tr as an RDF-star quoted-triple term (`<<s p o>>`
// occupying a subject or object position). tr's own S/P/O terms may be
// variables when used as a pattern; EncodeQuotedValue requires them bound
// before a quoted term can be matched against stored data.
func QuotedTerm(tr Triple) Term { return Term{Quoted: &tr} }

func (t Term) IsVar() bool    { return t.Var != "" }
func (t Term) IsQuoted() bool { return t.Quoted != nil }

// Triple is one (s,p,o) triple pattern. G and HasGraph carry the enclosing
// GRAPH clause's term, if any — set by withGraph when a PlanGraph node is
// executed, never by Convert itself, so a Triple built outside any GRAPH
// wrapper has HasGraph == false and scans the maintainer's default
// (ungraphed) key space exactly as before.
type Triple struct {
	S, P, O  Term
	G        Term
	HasGraph bool
}

// Node is one node of the AST the converter consumes — a pattern as a
// SPARQL query plan would describe it, before lowering.
type Node interface{ isNode() }

type Basic struct{ Triples []Triple }
type Join struct{ L, R Node }
type Optional struct{ L, R Node }
type Union struct{ L, R Node }
type Minus struct{ L, R Node }
type Filter struct {
	P Node
	E Expr
}
type Graph struct {
	G Term
	P Node
}
type PropertyPathNode struct {
	S, O Term
	Path Path
}
type GroupBy struct {
	P       Node
	Group   []string
	Aggs    []Aggregate
	Having  Expr
}
type Lateral struct{ L, R Node }

// Service, Values, Subquery, Bind are named in spec §4.6 as "best-effort
// (empty BGP or pass-through inner) — documented limitations": the
// converter accepts them syntactically but lowers to a degenerate node
// rather than implementing federation, VALUES binding tables, correlated
// subqueries, or expression binding.
type Service struct{ Inner Node }
type Values struct{ Vars []string; Rows [][]tuple.Element }
type Subquery struct{ Inner Node }
type Bind struct {
	Inner Node
	Var   string
	E     Expr
}

func (Basic) isNode()            {}
func (Join) isNode()              {}
func (Optional) isNode()          {}
func (Union) isNode()             {}
func (Minus) isNode()             {}
func (Filter) isNode()            {}
func (Graph) isNode()             {}
func (PropertyPathNode) isNode()  {}
func (GroupBy) isNode()           {}
func (Lateral) isNode()           {}
func (Service) isNode()           {}
func (Values) isNode()            {}
func (Subquery) isNode()          {}
func (Bind) isNode()              {}

// Expr is a filter/having expression evaluator plus the variable set it
// references, for push-down decisions (spec §4.6: "E(e) is an expression
// evaluator + its referenced variable set").
type Expr struct {
	Vars []string
	Eval func(binding map[string]tuple.Element) (tuple.Element, bool)
}

// AggregateKind names the group-by aggregate functions executed over a
// grouped binding set.
type AggregateKind string

const (
	AggCount AggregateKind = "count"
	AggSum   AggregateKind = "sum"
	AggMin   AggregateKind = "min"
	AggMax   AggregateKind = "max"
	AggAvg   AggregateKind = "avg"
)

type Aggregate struct {
	Kind   AggregateKind
	Var    string // input variable, empty for count(*)
	As     string // output binding name
}

// Plan is the lowered execution-algebra tree the converter produces (spec
// §4.6's right-hand column). Its shape mirrors Node one-to-one; it exists
// as a distinct type so a future cost-based rewrite pass (permutation
// choice, join order) can transform it without touching the AST.
type Plan struct {
	Kind     PlanKind
	Triples  []Triple
	Filter   Expr
	Graph    Term
	Path     Path
	PathS, PathO Term
	Group    []string
	Aggs     []Aggregate
	Having   *Expr
	Children []*Plan
}

type PlanKind string

const (
	PlanBGP          PlanKind = "bgp"
	PlanJoin         PlanKind = "join"
	PlanOptional     PlanKind = "optional"
	PlanUnion        PlanKind = "union"
	PlanMinus        PlanKind = "minus"
	PlanFilter       PlanKind = "filter"
	PlanGraph        PlanKind = "graph"
	PlanPropertyPath PlanKind = "propertyPath"
	PlanGroupBy      PlanKind = "groupBy"
	PlanLateral      PlanKind = "lateral"
	PlanPassThrough  PlanKind = "passThrough" // service/subquery/bind best-effort
	PlanEmptyBGP     PlanKind = "emptyBGP"    // values best-effort
)

// Convert is the GraphPatternConverter of spec §4.6: a total function on
// every node kind named in its AST-to-algebra table.
func Convert(n Node) *Plan {
	switch v := n.(type) {
	case Basic:
		return &Plan{Kind: PlanBGP, Triples: v.Triples}
	case Join:
		return &Plan{Kind: PlanJoin, Children: []*Plan{Convert(v.L), Convert(v.R)}}
	case Optional:
		return &Plan{Kind: PlanOptional, Children: []*Plan{Convert(v.L), Convert(v.R)}}
	case Union:
		return &Plan{Kind: PlanUnion, Children: []*Plan{Convert(v.L), Convert(v.R)}}
	case Minus:
		return &Plan{Kind: PlanMinus, Children: []*Plan{Convert(v.L), Convert(v.R)}}
	case Filter:
		return &Plan{Kind: PlanFilter, Filter: v.E, Children: []*Plan{Convert(v.P)}}
	case Graph:
		return &Plan{Kind: PlanGraph, Graph: v.G, Children: []*Plan{Convert(v.P)}}
	case PropertyPathNode:
		return &Plan{Kind: PlanPropertyPath, Path: v.Path, PathS: v.S, PathO: v.O}
	case GroupBy:
		var having *Expr
		if v.Having.Eval != nil {
			h := v.Having
			having = &h
		}
		return &Plan{Kind: PlanGroupBy, Group: v.Group, Aggs: v.Aggs, Having: having, Children: []*Plan{Convert(v.P)}}
	case Lateral:
		return &Plan{Kind: PlanLateral, Children: []*Plan{Convert(v.L), Convert(v.R)}}
	case Service:
		return &Plan{Kind: PlanPassThrough, Children: []*Plan{Convert(v.Inner)}}
	case Subquery:
		return &Plan{Kind: PlanPassThrough, Children: []*Plan{Convert(v.Inner)}}
	case Values:
		return &Plan{Kind: PlanEmptyBGP}
	case Bind:
		return &Plan{Kind: PlanPassThrough, Children: []*Plan{Convert(v.Inner)}}
	default:
		return &Plan{Kind: PlanEmptyBGP}
	}
}
