package sparql

import (
	"context"
	"fmt"

	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/tuple"
)

// step evaluates one single-edge step of a path (an IRI or its inverse)
// from a bound node, returning the set of reachable neighbors.
func step(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer, from tuple.Element, predicate tuple.Element, inverse bool) ([]tuple.Element, error) {
	s, o := Bound(from), Var("_o")
	if inverse {
		s, o = Var("_s"), Bound(from)
	}
	triple := Triple{S: s, P: Bound(predicate), O: o}
	rows, err := ScanTriple(ctx, txn, gm, triple)
	if err != nil {
		return nil, err
	}
	out := make([]tuple.Element, 0, len(rows))
	key := "_o"
	if inverse {
		key = "_s"
	}
	for _, r := range rows {
		out = append(out, r[key])
	}
	return out, nil
}

// EvalPropertyPath evaluates a property path from a single bound source
// node, returning every node reachable under the path (spec §4.6:
// "property paths execute as bounded BFS accumulating variable bindings").
// It handles the unary/binary combinators directly and treats iri/inverse
// as the base case that actually touches storage.
func EvalPropertyPath(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer, from tuple.Element, p Path) ([]tuple.Element, error) {
	switch p.Kind {
	case PathIRI:
		return step(ctx, txn, gm, from, p.IRI, false)
	case PathInverse:
		inner := p.Sub[0]
		if inner.Kind != PathIRI {
			return nil, fmt.Errorf("sparql: inverse of a non-iri path is not supported")
		}
		return step(ctx, txn, gm, from, inner.IRI, true)
	case PathSequence:
		mid, err := EvalPropertyPath(ctx, txn, gm, from, p.Sub[0])
		if err != nil {
			return nil, err
		}
		seen := map[string]tuple.Element{}
		for _, m := range mid {
			next, err := EvalPropertyPath(ctx, txn, gm, m, p.Sub[1])
			if err != nil {
				return nil, err
			}
			addAll(seen, next)
		}
		return values(seen), nil
	case PathAlternative:
		a, err := EvalPropertyPath(ctx, txn, gm, from, p.Sub[0])
		if err != nil {
			return nil, err
		}
		b, err := EvalPropertyPath(ctx, txn, gm, from, p.Sub[1])
		if err != nil {
			return nil, err
		}
		seen := map[string]tuple.Element{}
		addAll(seen, a)
		addAll(seen, b)
		return values(seen), nil
	case PathZeroOrOne:
		reached, err := EvalPropertyPath(ctx, txn, gm, from, p.Sub[0])
		if err != nil {
			return nil, err
		}
		seen := map[string]tuple.Element{packKey(from): from}
		addAll(seen, reached)
		return values(seen), nil
	case PathZeroOrMore, PathOneOrMore:
		return bfsClosure(ctx, txn, gm, from, p)
	case PathNegatedPropertySet:
		return nil, fmt.Errorf("sparql: negatedPropertySet requires enumerating all predicates, not supported without a predicate catalog")
	default:
		return nil, fmt.Errorf("sparql: unknown path kind %q", p.Kind)
	}
}

// bfsClosure implements zeroOrMore/oneOrMore as bounded BFS over repeated
// application of the inner path, capped at Length.EffectiveMax() hops to
// guard against cycles (spec §4.6).
func bfsClosure(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer, from tuple.Element, p Path) ([]tuple.Element, error) {
	inner := p.Sub[0]
	max := p.Length.EffectiveMax()
	seen := map[string]tuple.Element{}
	if p.Kind == PathZeroOrMore {
		seen[packKey(from)] = from
	}
	frontier := []tuple.Element{from}
	for hop := 0; hop < max && len(frontier) > 0; hop++ {
		var nextFrontier []tuple.Element
		for _, node := range frontier {
			next, err := EvalPropertyPath(ctx, txn, gm, node, inner)
			if err != nil {
				return nil, err
			}
			for _, n := range next {
				k := packKey(n)
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = n
				nextFrontier = append(nextFrontier, n)
			}
		}
		frontier = nextFrontier
	}
	return values(seen), nil
}

// packKey gives tuple.Element a stable map-key encoding, since Element
// itself carries no Pack method (only whole Tuples are order-preserving
// encodable).
func packKey(e tuple.Element) string {
	return string(tuple.Tuple{e}.Pack())
}

func addAll(seen map[string]tuple.Element, vs []tuple.Element) {
	for _, v := range vs {
		seen[packKey(v)] = v
	}
}

func values(seen map[string]tuple.Element) []tuple.Element {
	out := make([]tuple.Element, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	return out
}
