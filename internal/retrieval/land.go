package retrieval

import (
	"context"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
)

// land runs vector and full-text search in parallel over valid memories and
// fuses the two result lists. Memories scored by both searches come back
// tagged multiple.
func (p *Pipeline) land(ctx context.Context, query string, embedding pgvector.Vector) ([]candidate, error) {
	var vecHits, textHits []graph.MemoryHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := p.store.SearchMemoriesByVector(gctx, embedding, p.cfg.LandCandidates, true)
		if err != nil {
			return err
		}
		vecHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := p.store.SearchMemoriesByText(gctx, query, p.cfg.LandCandidates, true)
		if err != nil {
			return err
		}
		textHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return p.fuse(toCandidates(vecHits, model.SourceVector), toCandidates(textHits, model.SourceFulltext), true), nil
}

func toCandidates(hits []graph.MemoryHit, source model.Source) []candidate {
	out := make([]candidate, len(hits))
	for i, h := range hits {
		out[i] = candidate{memory: h.Memory, score: h.Score, source: source}
	}
	return out
}
