package scoring

import "math"

// EntityCandidate is an entity under consideration as a graph-walk anchor.
type EntityCandidate struct {
	ID        string
	Name      string
	Embedding []float32
	Degree    int
}

// SeedMemory is a LAND result contributing memory-based evidence for the
// entities it is about. About holds entity names, not ids.
type SeedMemory struct {
	Embedding []float32
	About     []string
}

// SignalWeights blends the three anchor-entity signals. The three fields
// should sum to 1.
type SignalWeights struct {
	Semantic   float64
	Memory     float64
	Structural float64
}

// DefaultSignalWeights is the 0.5/0.3/0.2 blend used by the retrieval pipeline.
var DefaultSignalWeights = SignalWeights{Semantic: 0.5, Memory: 0.3, Structural: 0.2}

// EntityWeights scores anchor candidates by blending semantic similarity to
// the query, mean similarity of the seed memories about each entity, and
// log-degree centrality. The result is normalized to sum to 1 so it can be
// used directly as a personalized-PageRank source distribution. When the
// blended total is not positive an empty map is returned so callers can
// short-circuit the graph walk.
func EntityWeights(candidates []EntityCandidate, seeds []SeedMemory, queryEmbedding []float32, w SignalWeights) map[string]float64 {
	if len(candidates) == 0 {
		return map[string]float64{}
	}

	// Memory signal: mean seed-memory similarity per entity name.
	memSum := make(map[string]float64, len(candidates))
	memCount := make(map[string]int, len(candidates))
	for _, seed := range seeds {
		sim := CosineSimilarity(seed.Embedding, queryEmbedding)
		for _, name := range seed.About {
			memSum[name] += sim
			memCount[name]++
		}
	}

	// Structural signal: log-degree normalized by the max in the candidate set.
	var maxLogDegree float64
	for _, c := range candidates {
		if ld := math.Log1p(float64(c.Degree)); ld > maxLogDegree {
			maxLogDegree = ld
		}
	}

	weights := make(map[string]float64, len(candidates))
	var total float64
	for _, c := range candidates {
		semantic := CosineSimilarity(c.Embedding, queryEmbedding)

		var memory float64
		if n := memCount[c.Name]; n > 0 {
			memory = memSum[c.Name] / float64(n)
		}

		var structural float64
		if maxLogDegree > 0 {
			structural = math.Log1p(float64(c.Degree)) / maxLogDegree
		}

		score := w.Semantic*semantic + w.Memory*memory + w.Structural*structural
		weights[c.ID] = score
		total += score
	}

	if total <= 0 {
		return map[string]float64{}
	}
	for id := range weights {
		weights[id] /= total
	}
	return weights
}
