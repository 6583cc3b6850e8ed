package graph

import "math"

// Adjacency is an undirected view of the ABOUT subgraph: node id to neighbor
// ids. Both entity and memory nodes appear; an ABOUT edge contributes each
// endpoint to the other's neighbor list. Backends load this snapshot and hand
// it to RunPersonalizedPageRank.
type Adjacency map[string][]string

const pprEpsilon = 1e-6

// RunPersonalizedPageRank runs power iteration with restarts biased toward the
// source distribution. sources maps node ids to restart weights; weights are
// renormalized internally, so any positive mass works. Rank mass from dangling
// nodes is redistributed to the sources. Iteration stops early once the L1
// delta between rounds drops below epsilon.
func RunPersonalizedPageRank(adj Adjacency, sources map[string]float64, damping float64, iterations int) map[string]float64 {
	if len(adj) == 0 || len(sources) == 0 || iterations <= 0 {
		return map[string]float64{}
	}

	// Restart distribution, restricted to nodes present in the graph.
	restart := make(map[string]float64, len(sources))
	var mass float64
	for id, w := range sources {
		if w <= 0 {
			continue
		}
		if _, ok := adj[id]; !ok {
			continue
		}
		restart[id] = w
		mass += w
	}
	if mass == 0 {
		return map[string]float64{}
	}
	for id := range restart {
		restart[id] /= mass
	}

	rank := make(map[string]float64, len(adj))
	for id, w := range restart {
		rank[id] = w
	}

	next := make(map[string]float64, len(adj))
	for i := 0; i < iterations; i++ {
		for id := range next {
			delete(next, id)
		}

		var dangling float64
		for id, r := range rank {
			neighbors := adj[id]
			if len(neighbors) == 0 {
				dangling += r
				continue
			}
			share := r / float64(len(neighbors))
			for _, n := range neighbors {
				next[n] += share
			}
		}

		var delta float64
		for id := range adj {
			v := (1-damping)*restart[id] + damping*(next[id]+dangling*restart[id])
			next[id] = v
			delta += math.Abs(v - rank[id])
		}

		rank, next = next, rank
		if delta < pprEpsilon {
			break
		}
	}

	// Drop zero-rank nodes so callers iterate only over reached ones.
	for id, r := range rank {
		if r == 0 {
			delete(rank, id)
		}
	}
	return rank
}
