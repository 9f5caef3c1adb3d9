// Package graphalgo implements spec §4.7's bounded graph algorithms
// (shortest path, PageRank, label-propagation community detection) over a
// graph-kind index (indexing.GraphMaintainer). Every algorithm here is
// bounded by configured limits; when a bound short-circuits it, the result
// reports IsComplete=false and an errs.LimitReason instead of returning an
// error, the same discipline stage_log_index.go uses for
// its own resumable, ticker-driven passes over unbounded data.
package graphalgo

import (
	"context"

	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/sparql"
	"github.com/ledgerwatch/coreindex/tuple"
)

// Direction selects which edge direction neighbors walks.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

// neighbors returns every node reachable from n by one edge in the given
// direction, reusing sparql's permutation-aware triple scan rather than
// re-deriving GraphMaintainer's key layout a second time.
func neighbors(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer, n tuple.Element, dir Direction) ([]tuple.Element, error) {
	var out []tuple.Element
	if dir == Outgoing || dir == Both {
		rows, err := sparql.ScanTriple(ctx, txn, gm, sparql.Triple{S: sparql.Bound(n), P: sparql.Var("_p"), O: sparql.Var("_o")})
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, r["_o"])
		}
	}
	if dir == Incoming || dir == Both {
		rows, err := sparql.ScanTriple(ctx, txn, gm, sparql.Triple{S: sparql.Var("_s"), P: sparql.Var("_p"), O: sparql.Bound(n)})
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, r["_s"])
		}
	}
	return out, nil
}

func packKey(e tuple.Element) string {
	return string(tuple.Tuple{e}.Pack())
}
