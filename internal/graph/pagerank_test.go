package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Chain: e1 - m1 - e2 - m2. Walks restarting at e1 should rank m1 above m2.
func chainAdjacency() Adjacency {
	return Adjacency{
		"e1": {"m1"},
		"m1": {"e1", "e2"},
		"e2": {"m1", "m2"},
		"m2": {"e2"},
	}
}

func TestRunPersonalizedPageRank(t *testing.T) {
	t.Run("proximity to source wins", func(t *testing.T) {
		rank := RunPersonalizedPageRank(chainAdjacency(), map[string]float64{"e1": 1}, 0.75, 25)
		require.NotEmpty(t, rank)
		assert.Greater(t, rank["m1"], rank["m2"])
		assert.Greater(t, rank["m2"], 0.0)
	})

	t.Run("source weights bias the walk", func(t *testing.T) {
		adj := Adjacency{
			"e1": {"m1"},
			"e2": {"m2"},
			"m1": {"e1"},
			"m2": {"e2"},
		}
		rank := RunPersonalizedPageRank(adj, map[string]float64{"e1": 0.9, "e2": 0.1}, 0.75, 25)
		assert.Greater(t, rank["m1"], rank["m2"])
	})

	t.Run("unnormalized weights are renormalized", func(t *testing.T) {
		a := RunPersonalizedPageRank(chainAdjacency(), map[string]float64{"e1": 1}, 0.75, 25)
		b := RunPersonalizedPageRank(chainAdjacency(), map[string]float64{"e1": 42}, 0.75, 25)
		require.Len(t, b, len(a))
		for id, r := range a {
			assert.InDelta(t, r, b[id], 1e-9)
		}
	})

	t.Run("sources absent from graph are ignored", func(t *testing.T) {
		rank := RunPersonalizedPageRank(chainAdjacency(), map[string]float64{"ghost": 1}, 0.75, 25)
		assert.Empty(t, rank)
	})

	t.Run("rank mass stays near one", func(t *testing.T) {
		rank := RunPersonalizedPageRank(chainAdjacency(), map[string]float64{"e1": 0.6, "e2": 0.4}, 0.75, 25)
		var total float64
		for _, r := range rank {
			total += r
		}
		assert.InDelta(t, 1.0, total, 1e-3)
	})

	t.Run("empty inputs", func(t *testing.T) {
		assert.Empty(t, RunPersonalizedPageRank(nil, map[string]float64{"e1": 1}, 0.75, 25))
		assert.Empty(t, RunPersonalizedPageRank(chainAdjacency(), nil, 0.75, 25))
		assert.Empty(t, RunPersonalizedPageRank(chainAdjacency(), map[string]float64{"e1": 1}, 0.75, 0))
	})
}
