package consolidation

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/memento/internal/agents"
	"github.com/ashita-ai/memento/internal/graph"
)

// entityDraft carries one extracted entity through resolution to the write
// step: the extraction, the resolver's decision, the stored name when
// matched, and the query embedding for create/re-embed.
type entityDraft struct {
	extracted  agents.ExtractedEntity
	resolution agents.EntityResolution
	// resolvedName is the graph's canonical name: the matched entity's stored
	// name for MATCH, the normalized extracted name for CREATE.
	resolvedName string
	embedding    pgvector.Vector
}

// extractResult is branch B's output.
type extractResult struct {
	drafts     []entityDraft
	memories   []agents.ExtractedMemory
	userUpdate *agents.UserDescriptionUpdate
}

// extractAndResolve is branch B: extract entities, normalize names, search
// the graph for merge candidates, resolve, then extract memories against the
// resolved entity list.
func (p *Pipeline) extractAndResolve(ctx context.Context, runner *agents.Runner, in Input, knownName string) (*extractResult, error) {
	extraction, err := agents.Run(ctx, runner, agents.EntityExtractAgent, agents.EntityExtractInput{
		NoteContent:   in.Content,
		KnownUserName: knownName,
	})
	if err != nil {
		return nil, fmt.Errorf("consolidation: extract entities: %w", err)
	}

	for i := range extraction.Entities {
		extraction.Entities[i].Name = agents.NormalizeEntityName(extraction.Entities[i].Name)
	}

	drafts, err := p.searchEntityCandidates(ctx, extraction.Entities)
	if err != nil {
		return nil, err
	}

	resolverInput := agents.EntityResolverInput{
		UserBiographicalFacts: extraction.UserBiographicalFacts,
	}
	if u, err := p.store.GetUser(ctx); err == nil {
		resolverInput.CurrentUserDescription = u.Description
	}
	for _, d := range drafts {
		resolverInput.Entities = append(resolverInput.Entities, d.toResolve)
	}

	var resolved *agents.EntityResolverOutput
	if len(drafts) > 0 {
		out, err := agents.Run(ctx, runner, agents.EntityResolverAgent, resolverInput)
		if err != nil {
			return nil, fmt.Errorf("consolidation: resolve entities: %w", err)
		}
		resolved = &out
	}

	result := &extractResult{}
	if resolved != nil {
		result.userUpdate = resolved.UserDescriptionUpdate
		for i, d := range drafts {
			res := resolved.Resolutions[i]
			name := d.toResolve.Name
			if res.Action == agents.ActionMatch {
				// The stored name is canonical; find it among the candidates.
				for _, m := range d.toResolve.Matches {
					if m.ID == res.MatchedEntityID {
						name = m.Name
						break
					}
				}
			}
			result.drafts = append(result.drafts, entityDraft{
				extracted:    d.extracted,
				resolution:   res,
				resolvedName: name,
				embedding:    d.embedding,
			})
		}
	}

	summaries := make([]agents.ResolvedEntitySummary, len(result.drafts))
	for i, d := range result.drafts {
		summaries[i] = agents.ResolvedEntitySummary{
			Name:   d.resolvedName,
			Type:   d.extracted.Type,
			Action: d.resolution.Action,
		}
	}
	memOut, err := agents.Run(ctx, runner, agents.MemoryExtractAgent, agents.MemoryExtractInput{
		NoteContent:   in.Content,
		NoteTimestamp: in.Timestamp,
		Entities:      summaries,
	})
	if err != nil {
		return nil, fmt.Errorf("consolidation: extract memories: %w", err)
	}
	result.memories = memOut.Memories
	return result, nil
}

// candidateDraft pairs an extracted entity with its embedding and search hits
// before resolution.
type candidateDraft struct {
	extracted agents.ExtractedEntity
	embedding pgvector.Vector
	toResolve agents.EntityToResolve
}

// searchEntityCandidates embeds "Name: Description" per entity in one batch
// and runs the per-entity hybrid searches concurrently.
func (p *Pipeline) searchEntityCandidates(ctx context.Context, entities []agents.ExtractedEntity) ([]candidateDraft, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	texts := make([]string, len(entities))
	for i, e := range entities {
		texts[i] = e.Name + ": " + e.Description
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("consolidation: embed entities: %w", err)
	}
	if len(vecs) != len(entities) {
		return nil, fmt.Errorf("consolidation: embedding count mismatch: %d for %d entities", len(vecs), len(entities))
	}

	drafts := make([]candidateDraft, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range entities {
		vec := vecs[i]
		g.Go(func() error {
			hits, err := p.store.SearchEntitiesHybrid(gctx, texts[i], vec, p.cfg.EntityMatches)
			if err != nil {
				return err
			}
			drafts[i] = candidateDraft{
				extracted: e,
				embedding: vec,
				toResolve: agents.EntityToResolve{
					Name:        e.Name,
					Type:        e.Type,
					Description: e.Description,
					IsWellKnown: e.IsWellKnown,
					Matches:     toMatches(hits),
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("consolidation: entity search: %w", err)
	}
	return drafts, nil
}

func toMatches(hits []graph.EntityHit) []agents.EntityMatch {
	out := make([]agents.EntityMatch, len(hits))
	for i, h := range hits {
		m := agents.EntityMatch{
			ID:         h.Entity.ID,
			Name:       h.Entity.Name,
			Type:       string(h.Entity.Type),
			Similarity: h.Score,
		}
		if h.Entity.Description != nil {
			m.Description = *h.Entity.Description
		}
		out[i] = m
	}
	return out
}
