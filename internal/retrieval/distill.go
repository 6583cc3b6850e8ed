package retrieval

import (
	"github.com/ashita-ai/memento/internal/scoring"
)

// distill fuses the LAND and EXPAND pools with the same fusion configuration
// as LAND, then diversifies with MMR under an adaptive lambda. The returned
// order is MMR selection order, which becomes the final ranking.
func (p *Pipeline) distill(landed, expanded []candidate) []candidate {
	fused := p.fuse(landed, expanded, false)
	if len(fused) == 0 {
		return nil
	}

	scores := make([]float64, len(fused))
	items := make([]scoring.Item, len(fused))
	byID := make(map[string]candidate, len(fused))
	for i, c := range fused {
		scores[i] = c.score
		items[i] = scoring.Item{ID: c.memory.ID, Score: c.score}
		if c.memory.Embedding != nil {
			items[i].Embedding = c.memory.Embedding.Slice()
		}
		byID[c.memory.ID] = c
	}

	lambda := scoring.AdaptiveLambda(scores, p.cfg.LambdaMin, p.cfg.LambdaMax)
	selected := scoring.MMR(items, lambda, p.cfg.TopK)

	out := make([]candidate, 0, len(selected))
	for _, item := range selected {
		out = append(out, byID[item.ID])
	}
	return out
}
