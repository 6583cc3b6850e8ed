package retrieval

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/memento/internal/model"
	"github.com/ashita-ai/memento/internal/scoring"
)

// expand walks the ABOUT graph from the anchor entities by personalized
// PageRank and re-scores each reached memory with the semantic-PPR blend:
// alpha*structural + (1-alpha)*cosine(memory, query). A memory without an
// embedding keeps its structural score.
func (p *Pipeline) expand(ctx context.Context, anchors map[string]float64, embedding pgvector.Vector) ([]candidate, error) {
	if len(anchors) == 0 {
		return nil, nil
	}

	hits, err := p.store.PersonalizedPageRank(ctx, anchors, p.cfg.Damping, p.cfg.Iterations, p.cfg.LandCandidates)
	if err != nil {
		return nil, err
	}

	query := embedding.Slice()
	out := make([]candidate, len(hits))
	for i, h := range hits {
		score := h.Score
		if h.Memory.Embedding != nil {
			sim := scoring.CosineSimilarity(h.Memory.Embedding.Slice(), query)
			score = p.cfg.SemPPRAlpha*h.Score + (1-p.cfg.SemPPRAlpha)*sim
		}
		out[i] = candidate{memory: h.Memory, score: score, source: model.SourceSemPPR}
	}
	return out, nil
}
