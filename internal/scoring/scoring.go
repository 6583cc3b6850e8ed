// Package scoring holds the pure numeric kernels shared by the retrieval and
// consolidation pipelines: similarity, score normalization, rank fusion, and
// diversity reranking. Everything here is synchronous and failure-free.
package scoring

import "math"

// CosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for empty or length-mismatched inputs. Embedding providers return
// L2-normalized vectors, so this reduces to a dot product; the denominator is
// still computed to stay correct for test fixtures that aren't normalized.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// AlignDistribution shifts and rescales scores to a target mean and standard
// deviation, making score populations from different search sources
// comparable. If the input deviation is zero every output equals targetMean.
func AlignDistribution(scores []float64, targetMean, targetStd float64) []float64 {
	if len(scores) == 0 {
		return nil
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))

	var variance float64
	for _, s := range scores {
		d := s - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(scores)))

	// Uniform inputs can leave a tiny nonzero std from rounding; a z-score
	// over that would amplify noise into full-range swings.
	out := make([]float64, len(scores))
	if std < 1e-12 {
		for i := range out {
			out[i] = targetMean
		}
		return out
	}
	for i, s := range scores {
		out[i] = targetMean + (s-mean)*targetStd/std
	}
	return out
}

// MinMaxNormalize rescales scores into [0,1]. When all scores are equal every
// output is 0.5 — a neutral value that neither boosts nor buries the source.
func MinMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	out := make([]float64, len(scores))
	if hi == lo {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}

// CoverageWeights scales the base fusion weights by how well each source
// covered the candidate pool. A source that returned fewer than threshold
// results gets its weight shrunk proportionally; the pair is then renormalized
// to sum to 1. An empty source hands its full weight to the other.
func CoverageWeights(baseA, baseB float64, countA, countB, threshold int) (float64, float64) {
	if threshold <= 0 {
		threshold = 1
	}
	scale := func(base float64, count int) float64 {
		frac := float64(count) / float64(threshold)
		if frac > 1 {
			frac = 1
		}
		return base * frac
	}
	wa := scale(baseA, countA)
	wb := scale(baseB, countB)
	total := wa + wb
	if total == 0 {
		return 0, 0
	}
	return wa / total, wb / total
}

// ReciprocalRankFusion combines ranked id lists by summing 1/(rank+c) per id.
// Ranks are 1-based. Higher fused scores mean higher combined rank.
func ReciprocalRankFusion(lists [][]string, c float64) map[string]float64 {
	fused := make(map[string]float64)
	for _, list := range lists {
		for rank, id := range list {
			fused[id] += 1.0 / (float64(rank+1) + c)
		}
	}
	return fused
}
