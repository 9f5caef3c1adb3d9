package graphalgo

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ledgerwatch/coreindex/errs"
	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/tuple"
)

// ShortestPathConfig bounds a ShortestPath run (spec §4.7: "Bounded by
// maxDepth, maxNodesExplored").
type ShortestPathConfig struct {
	MaxDepth         int
	MaxNodesExplored int
	Bidirectional    bool
}

func (c ShortestPathConfig) maxDepth() int {
	if c.MaxDepth <= 0 {
		return 50
	}
	return c.MaxDepth
}

func (c ShortestPathConfig) maxNodesExplored() int {
	if c.MaxNodesExplored <= 0 {
		return 100000
	}
	return c.MaxNodesExplored
}

// ShortestPathResult is spec §4.7's literal result shape.
type ShortestPathResult struct {
	Path        []tuple.Element
	Distance    int
	HasPath     bool
	NodesExplored int
	DurationNs  int64
	IsComplete  bool
	LimitReason errs.LimitReason
}

// ShortestPath runs unweighted BFS from src to dst, optionally bidirectional
// (a forward frontier from src and a backward frontier from dst advancing in
// lockstep, meeting in the middle — the standard way to halve a BFS's
// effective radius on graphs with comparable in/out branching).
func ShortestPath(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer, src, dst tuple.Element, cfg ShortestPathConfig) (ShortestPathResult, error) {
	start := time.Now()
	if cfg.Bidirectional {
		return shortestPathBidirectional(ctx, txn, gm, src, dst, cfg, start)
	}
	return shortestPathUnidirectional(ctx, txn, gm, src, dst, cfg, start)
}

type visitRecord struct {
	node tuple.Element
	prev string
	dist int
}

func shortestPathUnidirectional(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer, src, dst tuple.Element, cfg ShortestPathConfig, start time.Time) (ShortestPathResult, error) {
	srcKey, dstKey := packKey(src), packKey(dst)
	visited := map[string]visitRecord{srcKey: {node: src, dist: 0}}
	frontier := []tuple.Element{src}
	explored := 1

	if srcKey == dstKey {
		return ShortestPathResult{Path: []tuple.Element{src}, HasPath: true, NodesExplored: 1, DurationNs: time.Since(start).Nanoseconds(), IsComplete: true}, nil
	}

	for depth := 1; depth <= cfg.maxDepth() && len(frontier) > 0; depth++ {
		var next []tuple.Element
		for _, node := range frontier {
			ns, err := neighbors(ctx, txn, gm, node, Outgoing)
			if err != nil {
				return ShortestPathResult{}, err
			}
			for _, n := range ns {
				k := packKey(n)
				if _, ok := visited[k]; ok {
					continue
				}
				visited[k] = visitRecord{node: n, prev: packKey(node), dist: depth}
				explored++
				if explored > cfg.maxNodesExplored() {
					return ShortestPathResult{NodesExplored: explored, DurationNs: time.Since(start).Nanoseconds(), IsComplete: false, LimitReason: errs.LimitNodesExplored}, nil
				}
				if k == dstKey {
					return ShortestPathResult{Path: reconstructPath(visited, srcKey, k), Distance: depth, HasPath: true, NodesExplored: explored, DurationNs: time.Since(start).Nanoseconds(), IsComplete: true}, nil
				}
				next = append(next, n)
			}
		}
		frontier = next
		log.Debug("shortest path bfs depth", "depth", depth, "frontierSize", len(frontier), "explored", explored)
	}
	reason := errs.LimitNone
	if len(frontier) > 0 {
		reason = errs.LimitMaxDepth
	}
	return ShortestPathResult{HasPath: false, NodesExplored: explored, DurationNs: time.Since(start).Nanoseconds(), IsComplete: reason == errs.LimitNone, LimitReason: reason}, nil
}

func reconstructPath(visited map[string]visitRecord, srcKey, dstKey string) []tuple.Element {
	var rev []tuple.Element
	k := dstKey
	for {
		rec := visited[k]
		rev = append(rev, rec.node)
		if k == srcKey {
			break
		}
		k = rec.prev
	}
	out := make([]tuple.Element, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out
}

func shortestPathBidirectional(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer, src, dst tuple.Element, cfg ShortestPathConfig, start time.Time) (ShortestPathResult, error) {
	srcKey, dstKey := packKey(src), packKey(dst)
	if srcKey == dstKey {
		return ShortestPathResult{Path: []tuple.Element{src}, HasPath: true, NodesExplored: 1, DurationNs: time.Since(start).Nanoseconds(), IsComplete: true}, nil
	}
	fwd := map[string]visitRecord{srcKey: {node: src, dist: 0}}
	bwd := map[string]visitRecord{dstKey: {node: dst, dist: 0}}
	fwdFrontier := []tuple.Element{src}
	bwdFrontier := []tuple.Element{dst}
	explored := 2

	for depth := 1; depth <= cfg.maxDepth() && len(fwdFrontier) > 0 && len(bwdFrontier) > 0; depth++ {
		meet, ok, err := expandFrontier(ctx, txn, gm, &fwdFrontier, fwd, bwd, Outgoing, depth, &explored, cfg.maxNodesExplored())
		if err != nil {
			return ShortestPathResult{}, err
		}
		if explored > cfg.maxNodesExplored() {
			return ShortestPathResult{NodesExplored: explored, DurationNs: time.Since(start).Nanoseconds(), IsComplete: false, LimitReason: errs.LimitNodesExplored}, nil
		}
		if ok {
			return bidirectionalResult(fwd, bwd, srcKey, dstKey, meet, explored, start), nil
		}
		meet, ok, err = expandFrontier(ctx, txn, gm, &bwdFrontier, bwd, fwd, Incoming, depth, &explored, cfg.maxNodesExplored())
		if err != nil {
			return ShortestPathResult{}, err
		}
		if explored > cfg.maxNodesExplored() {
			return ShortestPathResult{NodesExplored: explored, DurationNs: time.Since(start).Nanoseconds(), IsComplete: false, LimitReason: errs.LimitNodesExplored}, nil
		}
		if ok {
			return bidirectionalResult(fwd, bwd, srcKey, dstKey, meet, explored, start), nil
		}
	}
	return ShortestPathResult{HasPath: false, NodesExplored: explored, DurationNs: time.Since(start).Nanoseconds(), IsComplete: false, LimitReason: errs.LimitMaxDepth}, nil
}

func expandFrontier(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer, frontier *[]tuple.Element, own, other map[string]visitRecord, dir Direction, depth int, explored *int, maxExplored int) (string, bool, error) {
	var next []tuple.Element
	for _, node := range *frontier {
		ns, err := neighbors(ctx, txn, gm, node, dir)
		if err != nil {
			return "", false, err
		}
		for _, n := range ns {
			k := packKey(n)
			if _, ok := own[k]; ok {
				continue
			}
			own[k] = visitRecord{node: n, prev: packKey(node), dist: depth}
			*explored++
			if *explored > maxExplored {
				return "", false, nil
			}
			if _, ok := other[k]; ok {
				return k, true, nil
			}
			next = append(next, n)
		}
	}
	*frontier = next
	return "", false, nil
}

func bidirectionalResult(fwd, bwd map[string]visitRecord, srcKey, dstKey, meet string, explored int, start time.Time) ShortestPathResult {
	fwdHalf := reconstructPath(fwd, srcKey, meet)
	bwdHalf := reconstructPath(bwd, dstKey, meet)
	path := make([]tuple.Element, 0, len(fwdHalf)+len(bwdHalf)-1)
	path = append(path, fwdHalf...)
	for i := len(bwdHalf) - 2; i >= 0; i-- {
		path = append(path, bwdHalf[i])
	}
	return ShortestPathResult{
		Path: path, Distance: len(path) - 1, HasPath: true,
		NodesExplored: explored, DurationNs: time.Since(start).Nanoseconds(), IsComplete: true,
	}
}
