package consolidation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/memento/internal/agents"
	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
)

// contextMemory is one existing memory in the join context.
type contextMemory struct {
	id      string
	content string
	score   float64
	about   []string
	validAt *time.Time
}

// retrieveContext is branch A: retrieve memories related to the note, widen
// the net with HyDE documents, merge, and keep the best ContextTopK.
func (p *Pipeline) retrieveContext(ctx context.Context, runner *agents.Runner, in Input) ([]contextMemory, error) {
	noteVec, err := p.embedder.Embed(ctx, in.Content)
	if err != nil {
		return nil, fmt.Errorf("consolidation: embed note: %w", err)
	}

	retrieved, err := p.retriever.Retrieve(ctx, in.Content, noteVec)
	if err != nil {
		return nil, fmt.Errorf("consolidation: context retrieval: %w", err)
	}
	if len(retrieved.Memories) == 0 {
		return nil, nil
	}

	merged := make(map[string]contextMemory, len(retrieved.Memories))
	for _, m := range retrieved.Memories {
		merged[m.ID] = contextMemory{
			id:      m.ID,
			content: m.Content,
			score:   m.Score,
			about:   m.About,
			validAt: m.ValidAt,
		}
	}

	hydeHits, err := p.hydeSearch(ctx, runner, retrieved.Memories)
	if err != nil {
		return nil, err
	}

	var hydeOnly []string
	for id, hit := range hydeHits {
		if existing, ok := merged[id]; ok {
			if hit.Score > existing.score {
				existing.score = hit.Score
				merged[id] = existing
			}
			continue
		}
		merged[id] = contextMemory{
			id:      id,
			content: hit.Memory.Content,
			score:   hit.Score,
			validAt: hit.Memory.ValidAt,
		}
		hydeOnly = append(hydeOnly, id)
	}

	// HyDE-only hits arrive without graph context; one batch read fills in
	// their ABOUT names so the resolver sees full records.
	if len(hydeOnly) > 0 {
		about, err := p.store.AboutEntities(ctx, hydeOnly)
		if err != nil {
			return nil, fmt.Errorf("consolidation: hyde about lookup: %w", err)
		}
		for _, id := range hydeOnly {
			m := merged[id]
			for _, ref := range about[id] {
				m.about = append(m.about, ref.Name)
			}
			merged[id] = m
		}
	}

	out := make([]contextMemory, 0, len(merged))
	for _, m := range merged {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	if len(out) > p.cfg.ContextTopK {
		out = out[:p.cfg.ContextTopK]
	}
	return out, nil
}

// hydeSearch generates hypothetical documents from the retrieved memories and
// runs one vector search per document, deduplicating by id with the max score.
func (p *Pipeline) hydeSearch(ctx context.Context, runner *agents.Runner, memories []model.RetrievedMemory) (map[string]graph.MemoryHit, error) {
	contents := make([]string, len(memories))
	for i, m := range memories {
		contents[i] = m.Content
	}

	hyde, err := agents.Run(ctx, runner, agents.HydeAgent, agents.HydeInput{Memories: contents},
		agents.WithTemperature(agents.HydeTemperature))
	if err != nil {
		return nil, fmt.Errorf("consolidation: hyde: %w", err)
	}

	var docs []string
	for _, d := range hyde.Semantic {
		docs = append(docs, d.Content)
	}
	for _, d := range hyde.StateChange {
		docs = append(docs, d.Content)
	}
	if len(docs) > p.cfg.HydeMaxDocs {
		docs = docs[:p.cfg.HydeMaxDocs]
	}
	if len(docs) == 0 {
		return nil, nil
	}

	vecs, err := p.embedder.EmbedBatch(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("consolidation: embed hyde docs: %w", err)
	}

	var mu sync.Mutex
	best := make(map[string]graph.MemoryHit)
	g, gctx := errgroup.WithContext(ctx)
	for _, vec := range vecs {
		g.Go(func() error {
			hits, err := p.store.SearchMemoriesByVector(gctx, vec, p.cfg.HydeResultsPerDoc, true)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, h := range hits {
				if prev, ok := best[h.Memory.ID]; !ok || h.Score > prev.Score {
					best[h.Memory.ID] = h
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("consolidation: hyde search: %w", err)
	}
	return best, nil
}
