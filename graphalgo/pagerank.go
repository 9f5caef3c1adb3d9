package graphalgo

import (
	"context"
	"math"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ledgerwatch/coreindex/errs"
	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/sparql"
	"github.com/ledgerwatch/coreindex/tuple"
)

// PageRankConfig tunes spec §4.7's "standard iterative algorithm with
// damping (default 0.85)".
type PageRankConfig struct {
	Damping         float64
	MaxIterations   int
	ConvergenceDelta float64 // L1 delta threshold, default 1e-6
}

func (c PageRankConfig) damping() float64 {
	if c.Damping <= 0 {
		return 0.85
	}
	return c.Damping
}

func (c PageRankConfig) maxIterations() int {
	if c.MaxIterations <= 0 {
		return 100
	}
	return c.MaxIterations
}

func (c PageRankConfig) convergenceDelta() float64 {
	if c.ConvergenceDelta <= 0 {
		return 1e-6
	}
	return c.ConvergenceDelta
}

// PageRankResult is spec §4.7's literal result shape. Scores is keyed by
// each node's packed tuple encoding, the opaque node identity this package
// uses internally wherever the node's decoded value isn't itself needed.
type PageRankResult struct {
	Scores           map[string]float64
	Iterations       int
	ConvergenceDelta float64
	IsComplete       bool
	LimitReason      errs.LimitReason
}

// PageRank loads the full edge set of gm's graph in one snapshot read and
// runs the standard power-iteration algorithm to convergence or
// maxIterations, whichever comes first.
func PageRank(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer, cfg PageRankConfig) (PageRankResult, error) {
	nodes, out, _, err := loadGraph(ctx, txn, gm)
	if err != nil {
		return PageRankResult{}, err
	}
	n := len(nodes)
	if n == 0 {
		return PageRankResult{Scores: map[string]float64{}, IsComplete: true}, nil
	}

	damping := cfg.damping()
	scores := make(map[string]float64, n)
	for _, node := range nodes {
		scores[node] = 1.0 / float64(n)
	}

	iterations := 0
	var delta float64
	complete := false
	for iterations < cfg.maxIterations() {
		next := make(map[string]float64, n)
		base := (1 - damping) / float64(n)
		for _, node := range nodes {
			next[node] = base
		}
		var danglingMass float64
		for _, node := range nodes {
			edges := out[node]
			if len(edges) == 0 {
				danglingMass += scores[node]
				continue
			}
			share := damping * scores[node] / float64(len(edges))
			for _, to := range edges {
				next[to] += share
			}
		}
		if danglingMass > 0 {
			redistribute := damping * danglingMass / float64(n)
			for _, node := range nodes {
				next[node] += redistribute
			}
		}
		delta = 0
		for _, node := range nodes {
			delta += math.Abs(next[node] - scores[node])
		}
		scores = next
		iterations++
		log.Debug("pagerank iteration", "iteration", iterations, "delta", delta)
		if delta < cfg.convergenceDelta() {
			complete = true
			break
		}
	}

	reason := errs.LimitNone
	if !complete {
		reason = errs.LimitMaxIterations
		log.Debug("pagerank stopped before convergence", "iterations", iterations, "delta", delta)
	}
	return PageRankResult{Scores: scores, Iterations: iterations, ConvergenceDelta: delta, IsComplete: complete, LimitReason: reason}, nil
}

// loadGraph performs a full scan of gm's edges, returning the distinct node
// set and an outgoing-adjacency map keyed by packed node identity.
func loadGraph(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer) (nodes []string, out map[string][]string, values map[string]tuple.Element, err error) {
	rows, err := sparql.ScanTriple(ctx, txn, gm, sparql.Triple{S: sparql.Var("_s"), P: sparql.Var("_p"), O: sparql.Var("_o")})
	if err != nil {
		return nil, nil, nil, err
	}
	seen := map[string]bool{}
	values = map[string]tuple.Element{}
	out = map[string][]string{}
	for _, r := range rows {
		s, o := r["_s"], r["_o"]
		sk, ok := packKey(s), packKey(o)
		if !seen[sk] {
			seen[sk] = true
			values[sk] = s
			nodes = append(nodes, sk)
		}
		if !seen[ok] {
			seen[ok] = true
			values[ok] = o
			nodes = append(nodes, ok)
		}
		out[sk] = append(out[sk], ok)
	}
	return nodes, out, values, nil
}
