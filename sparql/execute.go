package sparql

import (
	"context"
	"fmt"

	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
)

// Execute walks a lowered Plan and returns its resulting binding set,
// driving BGP/join/optional/union/minus/filter/groupBy exactly the way
// spec §4.6 describes. A PlanPropertyPath node runs only when its own
// subject term is bound; a variable subject is an error even when an
// enclosing join would bind it, since join children execute independently.
func Execute(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer, p *Plan) ([]Binding, error) {
	switch p.Kind {
	case PlanBGP:
		return execBGP(ctx, txn, gm, p.Triples)
	case PlanJoin:
		l, err := Execute(ctx, txn, gm, p.Children[0])
		if err != nil {
			return nil, err
		}
		r, err := Execute(ctx, txn, gm, p.Children[1])
		if err != nil {
			return nil, err
		}
		return HashJoin(l, r), nil
	case PlanOptional:
		l, err := Execute(ctx, txn, gm, p.Children[0])
		if err != nil {
			return nil, err
		}
		r, err := Execute(ctx, txn, gm, p.Children[1])
		if err != nil {
			return nil, err
		}
		return LeftJoin(l, r), nil
	case PlanUnion:
		l, err := Execute(ctx, txn, gm, p.Children[0])
		if err != nil {
			return nil, err
		}
		r, err := Execute(ctx, txn, gm, p.Children[1])
		if err != nil {
			return nil, err
		}
		return append(l, r...), nil
	case PlanMinus:
		l, err := Execute(ctx, txn, gm, p.Children[0])
		if err != nil {
			return nil, err
		}
		r, err := Execute(ctx, txn, gm, p.Children[1])
		if err != nil {
			return nil, err
		}
		return MinusBindings(l, r), nil
	case PlanFilter:
		in, err := Execute(ctx, txn, gm, p.Children[0])
		if err != nil {
			return nil, err
		}
		return FilterBindings(in, p.Filter), nil
	case PlanGraph:
		// GRAPH <g> { ... } scopes every triple pattern in its inner
		// subtree to g's key range (indexing.GraphMaintainer.
		// PermutationSubspaceInGraph), never just filtering matches of an
		// unscoped scan after the fact — withGraph stamps g onto every
		// PlanBGP node it finds, stopping at any nested PlanGraph (an
		// inner GRAPH clause shadows this one, same as SPARQL nesting).
		return Execute(ctx, txn, gm, withGraph(p.Children[0], p.Graph))
	case PlanPropertyPath:
		if p.PathS.IsVar() {
			return nil, fmt.Errorf("sparql: property path requires a bound subject")
		}
		reached, err := EvalPropertyPath(ctx, txn, gm, p.PathS.Value, p.Path)
		if err != nil {
			return nil, err
		}
		out := make([]Binding, 0, len(reached))
		for _, v := range reached {
			if p.PathO.IsVar() {
				out = append(out, Binding{p.PathO.Var: v})
			}
		}
		return out, nil
	case PlanGroupBy:
		in, err := Execute(ctx, txn, gm, p.Children[0])
		if err != nil {
			return nil, err
		}
		return GroupByExec(in, p.Group, p.Aggs, p.Having), nil
	case PlanLateral:
		l, err := Execute(ctx, txn, gm, p.Children[0])
		if err != nil {
			return nil, err
		}
		r, err := Execute(ctx, txn, gm, p.Children[1])
		if err != nil {
			return nil, err
		}
		return HashJoin(l, r), nil
	case PlanPassThrough:
		if len(p.Children) == 0 {
			return nil, nil
		}
		return Execute(ctx, txn, gm, p.Children[0])
	case PlanEmptyBGP:
		return []Binding{{}}, nil
	default:
		return nil, fmt.Errorf("sparql: unknown plan kind %q", p.Kind)
	}
}

// withGraph returns a copy of p with g bound onto every triple pattern
// reachable through it, leaving any nested PlanGraph subtree as it is
// (that inner GRAPH clause scopes its own triples to its own graph term
// and shadows this one). Leaves p itself untouched: it builds new nodes
// rather than mutating in place.
func withGraph(p *Plan, g Term) *Plan {
	if p == nil {
		return nil
	}
	if p.Kind == PlanGraph {
		return p
	}
	cp := *p
	if p.Kind == PlanBGP {
		cp.Triples = make([]Triple, len(p.Triples))
		for i, t := range p.Triples {
			t.G, t.HasGraph = g, true
			cp.Triples[i] = t
		}
	}
	if len(p.Children) > 0 {
		cp.Children = make([]*Plan, len(p.Children))
		for i, c := range p.Children {
			cp.Children[i] = withGraph(c, g)
		}
	}
	return &cp
}

func execBGP(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer, triples []Triple) ([]Binding, error) {
	if len(triples) == 0 {
		return []Binding{{}}, nil
	}
	result, err := ScanTriple(ctx, txn, gm, triples[0])
	if err != nil {
		return nil, err
	}
	for _, t := range triples[1:] {
		rows, err := ScanTriple(ctx, txn, gm, t)
		if err != nil {
			return nil, err
		}
		result = HashJoin(result, rows)
		if len(result) == 0 {
			break
		}
	}
	return result, nil
}
