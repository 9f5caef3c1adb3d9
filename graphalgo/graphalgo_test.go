package graphalgo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

func newTestGraph() *indexing.GraphMaintainer {
	return &indexing.GraphMaintainer{
		Name: "g", Strategy: indexing.StrategyHexastore,
		FromField: "s", EdgeField: "p", ToField: "o",
		Sub: subspace.FromPrefix([]byte("g")),
	}
}

func addEdge(t *testing.T, store kv.Store, gm *indexing.GraphMaintainer, s, p, o string) {
	item := &indexing.Item{
		PK:     tuple.From(tuple.String(s), tuple.String(p), tuple.String(o)),
		Values: map[string]tuple.Element{"s": tuple.String(s), "p": tuple.String(p), "o": tuple.String(o)},
	}
	err := store.WithTransaction(context.Background(), kv.TxnConfig{}, func(txn kv.Txn) error {
		return gm.ScanItem(context.Background(), txn, item)
	})
	require.NoError(t, err)
}

// buildChain wires a -> b -> c -> d -> e via a generic "next" edge, used by
// shortest-path tests.
func buildChain(t *testing.T, store kv.Store, gm *indexing.GraphMaintainer, nodes ...string) {
	for i := 0; i < len(nodes)-1; i++ {
		addEdge(t, store, gm, nodes[i], "next", nodes[i+1])
	}
}

func TestNeighborsDirections(t *testing.T) {
	store := kv.NewMemStore()
	gm := newTestGraph()
	addEdge(t, store, gm, "a", "knows", "b")
	addEdge(t, store, gm, "c", "knows", "a")

	err := store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		out, err := neighbors(context.Background(), txn, gm, tuple.String("a"), Outgoing)
		require.NoError(t, err)
		require.Equal(t, []tuple.Element{tuple.String("b")}, out)

		in, err := neighbors(context.Background(), txn, gm, tuple.String("a"), Incoming)
		require.NoError(t, err)
		require.Equal(t, []tuple.Element{tuple.String("c")}, in)

		both, err := neighbors(context.Background(), txn, gm, tuple.String("a"), Both)
		require.NoError(t, err)
		require.ElementsMatch(t, []tuple.Element{tuple.String("b"), tuple.String("c")}, both)
		return nil
	})
	require.NoError(t, err)
}

func TestShortestPathUnidirectional(t *testing.T) {
	store := kv.NewMemStore()
	gm := newTestGraph()
	buildChain(t, store, gm, "a", "b", "c", "d", "e")

	err := store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		res, err := ShortestPath(context.Background(), txn, gm, tuple.String("a"), tuple.String("e"), ShortestPathConfig{})
		require.NoError(t, err)
		require.True(t, res.HasPath)
		require.Equal(t, 4, res.Distance)
		require.Equal(t, []tuple.Element{
			tuple.String("a"), tuple.String("b"), tuple.String("c"), tuple.String("d"), tuple.String("e"),
		}, res.Path)
		return nil
	})
	require.NoError(t, err)
}

func TestShortestPathBidirectional(t *testing.T) {
	store := kv.NewMemStore()
	gm := newTestGraph()
	buildChain(t, store, gm, "a", "b", "c", "d", "e")

	err := store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		res, err := ShortestPath(context.Background(), txn, gm, tuple.String("a"), tuple.String("e"), ShortestPathConfig{Bidirectional: true})
		require.NoError(t, err)
		require.True(t, res.HasPath)
		require.Equal(t, 4, res.Distance)
		return nil
	})
	require.NoError(t, err)
}

func TestShortestPathNoPath(t *testing.T) {
	store := kv.NewMemStore()
	gm := newTestGraph()
	addEdge(t, store, gm, "a", "next", "b")
	addEdge(t, store, gm, "x", "next", "y")

	err := store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		res, err := ShortestPath(context.Background(), txn, gm, tuple.String("a"), tuple.String("y"), ShortestPathConfig{})
		require.NoError(t, err)
		require.False(t, res.HasPath)
		return nil
	})
	require.NoError(t, err)
}

func TestShortestPathMaxDepthLimit(t *testing.T) {
	store := kv.NewMemStore()
	gm := newTestGraph()
	buildChain(t, store, gm, "a", "b", "c", "d", "e")

	err := store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		res, err := ShortestPath(context.Background(), txn, gm, tuple.String("a"), tuple.String("e"), ShortestPathConfig{MaxDepth: 2})
		require.NoError(t, err)
		require.False(t, res.HasPath)
		require.False(t, res.IsComplete)
		return nil
	})
	require.NoError(t, err)
}

func TestPageRankConvergesOnCycle(t *testing.T) {
	store := kv.NewMemStore()
	gm := newTestGraph()
	addEdge(t, store, gm, "a", "next", "b")
	addEdge(t, store, gm, "b", "next", "c")
	addEdge(t, store, gm, "c", "next", "a")

	err := store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		res, err := PageRank(context.Background(), txn, gm, PageRankConfig{})
		require.NoError(t, err)
		require.True(t, res.IsComplete)
		require.Len(t, res.Scores, 3)
		// A symmetric 3-cycle converges to equal rank for every node.
		var first float64
		for i, s := range res.Scores {
			if first == 0 {
				first = s
			}
			require.InDelta(t, first, s, 1e-4, "node %s", i)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestPageRankDanglingNodeMassRedistributed(t *testing.T) {
	store := kv.NewMemStore()
	gm := newTestGraph()
	addEdge(t, store, gm, "a", "next", "b") // b is a dangling sink

	err := store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		res, err := PageRank(context.Background(), txn, gm, PageRankConfig{})
		require.NoError(t, err)
		var total float64
		for _, s := range res.Scores {
			total += s
		}
		require.InDelta(t, 1.0, total, 1e-3)
		return nil
	})
	require.NoError(t, err)
}

func TestCommunityDetectsTwoCliques(t *testing.T) {
	store := kv.NewMemStore()
	gm := newTestGraph()
	// Clique {a,b,c}, clique {x,y,z}, no edges between the two groups.
	for _, e := range [][2]string{{"a", "b"}, {"b", "c"}, {"a", "c"}, {"x", "y"}, {"y", "z"}, {"x", "z"}} {
		addEdge(t, store, gm, e[0], "link", e[1])
	}

	err := store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		res, err := Community(context.Background(), txn, gm, CommunityConfig{Seed: 7, ComputeModularity: true})
		require.NoError(t, err)
		require.Equal(t, res.Assignments["a"], res.Assignments["b"])
		require.Equal(t, res.Assignments["b"], res.Assignments["c"])
		require.Equal(t, res.Assignments["x"], res.Assignments["y"])
		require.Equal(t, res.Assignments["y"], res.Assignments["z"])
		require.NotEqual(t, res.Assignments["a"], res.Assignments["x"])
		require.NotNil(t, res.Modularity)
		return nil
	})
	require.NoError(t, err)
}

func TestCommunitySeedIsReproducible(t *testing.T) {
	store := kv.NewMemStore()
	gm := newTestGraph()
	for _, e := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}} {
		addEdge(t, store, gm, e[0], "link", e[1])
	}

	var first, second CommunityResult
	err := store.WithTransaction(context.Background(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
		var err error
		first, err = Community(context.Background(), txn, gm, CommunityConfig{Seed: 42})
		if err != nil {
			return err
		}
		second, err = Community(context.Background(), txn, gm, CommunityConfig{Seed: 42})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, first.Assignments, second.Assignments)
}
