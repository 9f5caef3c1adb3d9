package graphalgo

import (
	"context"
	"math/bits"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
)

// CommunityConfig tunes spec §4.7's label-propagation community detection.
type CommunityConfig struct {
	MaxIterations int
	Seed          uint64 // optional, selects the reproducible node visit order
	ComputeModularity bool
}

func (c CommunityConfig) maxIterations() int {
	if c.MaxIterations <= 0 {
		return 100
	}
	return c.MaxIterations
}

// CommunityResult is spec §4.7's literal result shape. Node identity here
// is each node's packed tuple encoding (see PageRankResult.Scores).
type CommunityResult struct {
	Assignments map[string]string // node -> community label
	Communities map[string][]string
	Iterations  int
	Modularity  *float64
	DurationNs  int64
}

// Community runs label propagation: each node adopts the label most common
// among its neighbors, ties going to the lexicographically smallest label.
// cfg.Seed fixes the order nodes are visited in, so two runs over the same
// graph with the same seed produce the same partition (spec §4.7: "optional
// seed for reproducibility").
func Community(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer, cfg CommunityConfig) (CommunityResult, error) {
	start := time.Now()
	nodes, out, _, err := loadGraph(ctx, txn, gm)
	if err != nil {
		return CommunityResult{}, err
	}
	adj := undirected(nodes, out)

	labels := make(map[string]string, len(nodes))
	for _, n := range nodes {
		labels[n] = n
	}

	order := append([]string(nil), nodes...)
	sortDeterministic(order, cfg.Seed)

	iterations := 0
	for iterations < cfg.maxIterations() {
		changed := false
		for _, n := range order {
			neigh := adj[n]
			if len(neigh) == 0 {
				continue
			}
			counts := map[string]int{}
			for _, m := range neigh {
				counts[labels[m]]++
			}
			best, bestCount := labels[n], -1
			candidates := make([]string, 0, len(counts))
			for l := range counts {
				candidates = append(candidates, l)
			}
			sort.Strings(candidates)
			for _, l := range candidates {
				if counts[l] > bestCount {
					best, bestCount = l, counts[l]
				}
			}
			if best != labels[n] {
				labels[n] = best
				changed = true
			}
		}
		iterations++
		log.Debug("community detection iteration", "iteration", iterations, "changed", changed)
		if !changed {
			break
		}
	}

	communities := map[string][]string{}
	for _, n := range nodes {
		l := labels[n]
		communities[l] = append(communities[l], n)
	}

	var modularity *float64
	if cfg.ComputeModularity {
		m := computeModularity(nodes, adj, labels)
		modularity = &m
	}

	return CommunityResult{Assignments: labels, Communities: communities, Iterations: iterations, Modularity: modularity, DurationNs: time.Since(start).Nanoseconds()}, nil
}

func undirected(nodes []string, out map[string][]string) map[string][]string {
	adj := make(map[string][]string, len(nodes))
	for from, tos := range out {
		for _, to := range tos {
			adj[from] = append(adj[from], to)
			adj[to] = append(adj[to], from)
		}
	}
	return adj
}

// sortDeterministic orders nodes by a seed-mixed hash so propagation visits
// nodes in a reproducible but seed-dependent order, per cfg's optional seed.
func sortDeterministic(nodes []string, seed uint64) {
	sort.Slice(nodes, func(i, j int) bool {
		hi, hj := mix(nodes[i], seed), mix(nodes[j], seed)
		if hi != hj {
			return hi < hj
		}
		return nodes[i] < nodes[j]
	})
}

func mix(s string, seed uint64) uint64 {
	h := seed + 0x9E3779B97F4A7C15
	for _, b := range []byte(s) {
		h ^= uint64(b)
		h *= 0xFF51AFD7ED558CCD
		h = bits.RotateLeft64(h, 31)
	}
	return h
}

// computeModularity is the standard Newman-Girvan modularity score Q for a
// label partition (spec §4.7: "optional modularity computation").
func computeModularity(nodes []string, adj map[string][]string, labels map[string]string) float64 {
	m := 0.0
	degree := make(map[string]float64, len(nodes))
	for _, n := range nodes {
		degree[n] = float64(len(adj[n]))
		m += degree[n]
	}
	if m == 0 {
		return 0
	}
	q := 0.0
	for _, a := range nodes {
		for _, b := range adj[a] {
			if labels[a] == labels[b] {
				q++
			}
		}
	}
	// The expected-edges term runs over every same-community pair, adjacent
	// or not: per community it sums to (total degree)^2 / 2m.
	communityDegree := make(map[string]float64)
	for _, n := range nodes {
		communityDegree[labels[n]] += degree[n]
	}
	for _, d := range communityDegree {
		q -= d * d / m
	}
	return q / m
}
