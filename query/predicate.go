// Package query implements the type-safe query builder and planner of spec
// §4.6: a fluent predicate algebra over field references, normalized to DNF
// and lowered to a plan tree of index/primary-fetch/filter/sort operators.
// It generalizes the teacher's hand-written per-bucket lookups
// (`core/state/db_state_writer.go`'s direct `GetAccount`/account-by-address
// reads, `eth/filters/filter.go`'s manual bloom-then-scan predicate checks)
// into a single declarative layer any entity and any registered index can
// share.
package query

import (
	"fmt"

	"github.com/ledgerwatch/coreindex/tuple"
)

// Comparator names the comparison predicates of spec §4.6.
type Comparator string

const (
	Eq        Comparator = "=="
	Neq       Comparator = "!="
	Lt        Comparator = "<"
	Lte       Comparator = "<="
	Gt        Comparator = ">"
	Gte       Comparator = ">="
	Contains  Comparator = "contains"
	HasPrefix Comparator = "hasPrefix"
	HasSuffix Comparator = "hasSuffix"
	IsNil     Comparator = "isNil"
	In        Comparator = "in"
)

// Evaluator is the hot-path comparison closure spec §4.6 describes: bound
// once when a predicate is built, it avoids any reflection or tagged-value
// dispatch at evaluation time. Comparisons built without one (e.g. ones
// deserialized from a saved query, or pushed through type-erasure) fall
// back to FieldValueEvaluator.
type Evaluator func(v tuple.Element) bool

// Predicate is one node of the Boolean predicate tree spec §4.6 builds:
// either a leaf comparison on a single field, or a Boolean combinator over
// child predicates.
type Predicate struct {
	// Leaf fields.
	Field      string
	Comparator Comparator
	Operand    tuple.Element
	Operands   []tuple.Element // for In
	Eval       Evaluator       // optional fast path; nil falls back to FieldValueEvaluator

	// Combinator fields.
	Op       BoolOp
	Children []Predicate
}

// BoolOp names the Boolean combinators of spec §4.6.
type BoolOp string

const (
	opLeaf BoolOp = ""
	OpAnd  BoolOp = "and"
	OpOr   BoolOp = "or"
	OpNot  BoolOp = "not"
)

func (p Predicate) isLeaf() bool { return p.Op == opLeaf }

// Where builds a leaf comparison predicate. eval may be nil.
func Where(field string, cmp Comparator, operand tuple.Element, eval Evaluator) Predicate {
	return Predicate{Field: field, Comparator: cmp, Operand: operand, Eval: eval}
}

// WhereIn builds an `in [values]` predicate.
func WhereIn(field string, values []tuple.Element) Predicate {
	return Predicate{Field: field, Comparator: In, Operands: values}
}

// WhereNil builds a null-check predicate.
func WhereNil(field string) Predicate {
	return Predicate{Field: field, Comparator: IsNil}
}

func And(preds ...Predicate) Predicate { return Predicate{Op: OpAnd, Children: preds} }
func Or(preds ...Predicate) Predicate  { return Predicate{Op: OpOr, Children: preds} }
func Not(pred Predicate) Predicate     { return Predicate{Op: OpNot, Children: []Predicate{pred}} }

// FieldValueEvaluator is the reflection-free fallback named in spec §4.6:
// "a field-value fallback converts raw Any to a tagged FieldValue and
// compares under the tagged semantics." tuple.Element already carries a
// type tag (spec §3's field typing), so this is a direct tagged comparison,
// never a runtime type switch on a Go `any`.
func FieldValueEvaluator(cmp Comparator, operand tuple.Element, operands []tuple.Element) Evaluator {
	return func(v tuple.Element) bool {
		return evalTagged(cmp, v, operand, operands)
	}
}

func evalTagged(cmp Comparator, v, operand tuple.Element, operands []tuple.Element) bool {
	switch cmp {
	case Eq:
		return tuple.Compare(tuple.Tuple{v}, tuple.Tuple{operand}) == 0
	case Neq:
		return tuple.Compare(tuple.Tuple{v}, tuple.Tuple{operand}) != 0
	case Lt:
		return tuple.Compare(tuple.Tuple{v}, tuple.Tuple{operand}) < 0
	case Lte:
		return tuple.Compare(tuple.Tuple{v}, tuple.Tuple{operand}) <= 0
	case Gt:
		return tuple.Compare(tuple.Tuple{v}, tuple.Tuple{operand}) > 0
	case Gte:
		return tuple.Compare(tuple.Tuple{v}, tuple.Tuple{operand}) >= 0
	case Contains, HasPrefix, HasSuffix:
		return evalStringPredicate(cmp, v, operand)
	case IsNil:
		return v.IsNull()
	case In:
		for _, o := range operands {
			if tuple.Compare(tuple.Tuple{v}, tuple.Tuple{o}) == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func evalStringPredicate(cmp Comparator, v, operand tuple.Element) bool {
	vs, ok1 := v.AsString()
	os, ok2 := operand.AsString()
	if !ok1 || !ok2 {
		return false
	}
	switch cmp {
	case Contains:
		return containsSubstring(vs, os)
	case HasPrefix:
		return len(vs) >= len(os) && vs[:len(os)] == os
	case HasSuffix:
		return len(vs) >= len(os) && vs[len(vs)-len(os):] == os
	}
	return false
}

func containsSubstring(s, sub string) bool {
	if len(sub) == 0 {
		return true
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// Evaluate runs the predicate tree against a field-lookup function,
// resolving each leaf's Evaluator (or the tagged fallback) against the
// named field's current value.
func (p Predicate) Evaluate(fieldValue func(name string) (tuple.Element, bool)) bool {
	if p.isLeaf() {
		v, ok := fieldValue(p.Field)
		if !ok {
			return p.Comparator == IsNil
		}
		eval := p.Eval
		if eval == nil {
			eval = FieldValueEvaluator(p.Comparator, p.Operand, p.Operands)
		}
		return eval(v)
	}
	switch p.Op {
	case OpAnd:
		for _, c := range p.Children {
			if !c.Evaluate(fieldValue) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range p.Children {
			if c.Evaluate(fieldValue) {
				return true
			}
		}
		return false
	case OpNot:
		return !p.Children[0].Evaluate(fieldValue)
	default:
		return false
	}
}

func (p Predicate) String() string {
	if p.isLeaf() {
		if p.Comparator == In {
			return fmt.Sprintf("%s in %v", p.Field, p.Operands)
		}
		if p.Comparator == IsNil {
			return fmt.Sprintf("%s is nil", p.Field)
		}
		return fmt.Sprintf("%s %s %v", p.Field, p.Comparator, p.Operand)
	}
	if p.Op == OpNot {
		return "not(" + p.Children[0].String() + ")"
	}
	s := "("
	for i, c := range p.Children {
		if i > 0 {
			s += " " + string(p.Op) + " "
		}
		s += c.String()
	}
	return s + ")"
}
