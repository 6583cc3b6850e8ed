package retrieval

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
)

// trace hydrates the selected memories with their graph context: ABOUT
// entities, invalidation chains, provenance notes, and the entity details
// section. The three per-memory reads fan out in parallel; the entity read
// depends on the ABOUT names and runs after.
func (p *Pipeline) trace(ctx context.Context, selected []candidate, out *model.RetrievalOutput) error {
	if len(selected) == 0 {
		return nil
	}

	ids := make([]string, len(selected))
	for i, c := range selected {
		ids[i] = c.memory.ID
	}

	var (
		about  map[string][]graph.EntityRef
		chains map[string][]model.InvalidatedMemory
		notes  map[string]model.Note
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		about, err = p.store.AboutEntities(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		chains, err = p.store.InvalidationChains(gctx, ids, p.cfg.InvalidationDepth)
		return err
	})
	g.Go(func() error {
		var err error
		notes, err = p.store.ProvenanceNotes(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	refCount := make(map[string]int)
	var names []string
	seen := make(map[string]bool)
	for _, id := range ids {
		for _, ref := range about[id] {
			refCount[ref.ID]++
			if !seen[ref.Name] {
				seen[ref.Name] = true
				names = append(names, ref.Name)
			}
		}
	}

	var infos []model.EntityInfo
	if len(names) > 0 {
		var err error
		infos, err = p.store.GetEntityInfosByName(ctx, names)
		if err != nil {
			return err
		}
	}

	for rank, c := range selected {
		m := model.RetrievedMemory{
			Rank:    rank + 1,
			ID:      c.memory.ID,
			Content: collapseWhitespace(c.memory.Content),
			Score:   c.score,
			Source:  c.source,
			ValidAt: c.memory.ValidAt,
		}
		for _, ref := range about[c.memory.ID] {
			m.About = append(m.About, ref.Name)
			m.AboutEntityIDs = append(m.AboutEntityIDs, ref.ID)
		}
		m.Invalidates = chains[c.memory.ID]
		if note, ok := notes[c.memory.ID]; ok {
			m.ExtractedFrom = &model.Provenance{
				NoteID:        note.ID,
				NoteContent:   note.Content,
				NoteTimestamp: note.Timestamp,
			}
		}
		out.Memories = append(out.Memories, m)
	}

	for _, info := range infos {
		count := refCount[info.Entity.ID]
		if count == 0 {
			continue
		}
		out.Entities = append(out.Entities, model.RetrievedEntity{
			ID:          info.Entity.ID,
			Name:        info.Entity.Name,
			Type:        string(info.Entity.Type),
			Description: info.Entity.Description,
			IsWellKnown: info.Entity.IsWellKnown,
			IsUser:      info.IsUser,
			MemoryCount: count,
		})
	}
	sort.SliceStable(out.Entities, func(i, j int) bool {
		a, b := out.Entities[i], out.Entities[j]
		if a.IsUser != b.IsUser {
			return a.IsUser
		}
		if a.MemoryCount != b.MemoryCount {
			return a.MemoryCount > b.MemoryCount
		}
		return a.Name < b.Name
	})
	return nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
