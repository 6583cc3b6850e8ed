package retrieval

import (
	"math"
	"sort"

	"github.com/ashita-ai/memento/internal/model"
	"github.com/ashita-ai/memento/internal/scoring"
)

// fuse combines two score-ordered candidate lists: per-source distribution
// alignment, min-max normalization, coverage-adjusted base weights, a quality
// floor, then a weighted average over the sources that contributed. When
// retagBoth is set, items scored by both sources are tagged multiple; other
// callers keep the first list's tag. The result is sorted by fused score.
func (p *Pipeline) fuse(a, b []candidate, retagBoth bool) []candidate {
	normA := normalizeScores(a, p.cfg.TargetMean, p.cfg.TargetStd)
	normB := normalizeScores(b, p.cfg.TargetMean, p.cfg.TargetStd)

	threshold := int(math.Round(p.cfg.CoverageThreshold * float64(p.cfg.LandCandidates)))
	if threshold < 1 {
		threshold = 1
	}
	wA, wB := scoring.CoverageWeights(p.cfg.BaseVectorWeight, p.cfg.BaseFulltextWeight, len(a), len(b), threshold)

	type contrib struct {
		cand        candidate
		scoreSum    float64
		weightSum   float64
		fromA, fromB bool
	}
	merged := make(map[string]*contrib, len(a)+len(b))
	order := make([]string, 0, len(a)+len(b))

	add := func(c candidate, norm, weight float64, fromA bool) {
		if norm < p.cfg.QualityFloor {
			return
		}
		entry, ok := merged[c.memory.ID]
		if !ok {
			entry = &contrib{cand: c}
			merged[c.memory.ID] = entry
			order = append(order, c.memory.ID)
		}
		entry.scoreSum += weight * norm
		entry.weightSum += weight
		if fromA {
			entry.fromA = true
		} else {
			entry.fromB = true
		}
	}
	for i, c := range a {
		add(c, normA[i], wA, true)
	}
	for i, c := range b {
		add(c, normB[i], wB, false)
	}

	out := make([]candidate, 0, len(order))
	for _, id := range order {
		entry := merged[id]
		if entry.weightSum <= 0 {
			continue
		}
		c := entry.cand
		c.score = entry.scoreSum / entry.weightSum
		if retagBoth && entry.fromA && entry.fromB {
			c.source = model.SourceMultiple
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].memory.ID < out[j].memory.ID
	})
	return out
}

// normalizeScores aligns a list's scores to the target distribution and
// rescales to [0,1], preserving positions.
func normalizeScores(cands []candidate, mean, std float64) []float64 {
	scores := make([]float64, len(cands))
	for i, c := range cands {
		scores[i] = c.score
	}
	return scoring.MinMaxNormalize(scoring.AlignDistribution(scores, mean, std))
}
