package retrieval

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/memento/internal/scoring"
)

// anchor picks the entities the graph walk starts from. It counts how many
// LAND results each ABOUT-entity appears on, keeps those at or above the
// frequency floor, and blends semantic, memory, and structural signals into a
// normalized source distribution for personalized PageRank.
func (p *Pipeline) anchor(ctx context.Context, landed []candidate, embedding pgvector.Vector) (map[string]float64, error) {
	if len(landed) == 0 {
		return map[string]float64{}, nil
	}

	ids := make([]string, len(landed))
	for i, c := range landed {
		ids[i] = c.memory.ID
	}
	about, err := p.store.AboutEntities(ctx, ids)
	if err != nil {
		return nil, err
	}

	freq := make(map[string]int)
	for _, refs := range about {
		for _, ref := range refs {
			freq[ref.Name]++
		}
	}
	names := make([]string, 0, len(freq))
	for name, n := range freq {
		if n >= p.cfg.AnchorMinMemories {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return map[string]float64{}, nil
	}

	infos, err := p.store.GetEntityInfosByName(ctx, names)
	if err != nil {
		return nil, err
	}

	candidates := make([]scoring.EntityCandidate, 0, len(infos))
	for _, info := range infos {
		ec := scoring.EntityCandidate{
			ID:     info.Entity.ID,
			Name:   info.Entity.Name,
			Degree: info.Degree,
		}
		if info.Entity.Embedding != nil {
			ec.Embedding = info.Entity.Embedding.Slice()
		}
		candidates = append(candidates, ec)
	}

	seeds := make([]scoring.SeedMemory, 0, len(landed))
	for _, c := range landed {
		seed := scoring.SeedMemory{}
		if c.memory.Embedding != nil {
			seed.Embedding = c.memory.Embedding.Slice()
		}
		for _, ref := range about[c.memory.ID] {
			seed.About = append(seed.About, ref.Name)
		}
		seeds = append(seeds, seed)
	}

	return scoring.EntityWeights(candidates, seeds, embedding.Slice(), scoring.DefaultSignalWeights), nil
}
