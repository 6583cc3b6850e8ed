package consolidation

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/memento/internal/agents"
	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
)

// write applies one consolidation outcome in a single transaction: user node
// upkeep, the note, entity creates/updates, memories with their edges, and
// note mentions. Embeddings are computed up front so no external call runs
// inside the transaction.
func (p *Pipeline) write(ctx context.Context, in Input, knownName string, extracted *extractResult, decisions []agents.MemoryDecision, result *Result) error {
	// An entity carrying the user's own name would duplicate the User node.
	drafts := make([]entityDraft, 0, len(extracted.drafts))
	for _, d := range extracted.drafts {
		if knownName != "" && strings.EqualFold(d.resolvedName, knownName) {
			p.logger.Debug("consolidation: dropping entity matching user name", "name", d.resolvedName)
			continue
		}
		drafts = append(drafts, d)
	}

	draftNames := make(map[string]bool, len(drafts))
	for _, d := range drafts {
		draftNames[strings.ToLower(d.resolvedName)] = true
	}

	type pendingMemory struct {
		extracted agents.ExtractedMemory
		decision  agents.MemoryDecision
	}
	var pending []pendingMemory
	aboutUser := false
	for i, d := range decisions {
		if d.Action == agents.DecisionSkip {
			continue
		}
		em := extracted.memories[i]
		pending = append(pending, pendingMemory{extracted: em, decision: d})
		resolved := false
		for _, name := range em.AboutEntities {
			switch {
			case isUserName(name, knownName):
				aboutUser = true
				resolved = true
			case draftNames[strings.ToLower(name)]:
				resolved = true
			}
		}
		// A memory whose subjects all failed to resolve falls back to an
		// ABOUT edge on the user node, so the node must exist.
		if !resolved {
			aboutUser = true
		}
	}

	userName := knownName
	if userName == "" {
		userName = "user"
	}

	var userNameVec *pgvector.Vector
	if aboutUser {
		vec, err := p.embedder.Embed(ctx, userName)
		if err != nil {
			return fmt.Errorf("consolidation: embed user name: %w", err)
		}
		userNameVec = &vec
	}

	var userDescVec *pgvector.Vector
	updateUserDesc := extracted.userUpdate != nil && extracted.userUpdate.ShouldUpdate
	if updateUserDesc {
		vec, err := p.embedder.Embed(ctx, userName+": "+extracted.userUpdate.Description)
		if err != nil {
			return fmt.Errorf("consolidation: embed user description: %w", err)
		}
		userDescVec = &vec
	}

	// Batch pre-embed the surviving memories, keyed by content.
	memVecs := make(map[string]pgvector.Vector, len(pending))
	if len(pending) > 0 {
		contents := make([]string, len(pending))
		for i, pm := range pending {
			contents[i] = pm.extracted.Content
		}
		vecs, err := p.embedder.EmbedBatch(ctx, contents)
		if err != nil {
			return fmt.Errorf("consolidation: embed memories: %w", err)
		}
		if len(vecs) != len(contents) {
			return fmt.Errorf("consolidation: embedding count mismatch: %d for %d memories", len(vecs), len(contents))
		}
		for i, content := range contents {
			memVecs[content] = vecs[i]
		}
	}

	return p.store.ExecuteTransaction(ctx, func(tx graph.Tx) error {
		if aboutUser {
			u, err := tx.GetOrCreateUser(ctx, userName, userNameVec)
			if err != nil {
				return fmt.Errorf("consolidation: ensure user: %w", err)
			}
			if !strings.EqualFold(u.Name, userName) {
				if err := tx.UpdateUser(ctx, &userName, nil, nil); err != nil {
					return fmt.Errorf("consolidation: update user name: %w", err)
				}
			}
		}

		if updateUserDesc {
			if err := tx.UpdateUser(ctx, nil, &extracted.userUpdate.Description, userDescVec); err != nil {
				return fmt.Errorf("consolidation: update user description: %w", err)
			}
			result.UserDescriptionUpdated = true
		}

		note, err := tx.CreateNote(ctx, model.Note{Content: in.Content, Timestamp: in.Timestamp})
		if err != nil {
			return fmt.Errorf("consolidation: create note: %w", err)
		}
		result.NoteID = note.ID

		entityIDs := make(map[string]string, len(drafts))
		for _, d := range drafts {
			var id string
			switch d.resolution.Action {
			case agents.ActionCreate:
				emb := d.embedding
				ent := model.Entity{
					Name:        d.resolvedName,
					Type:        model.EntityType(d.extracted.Type),
					Embedding:   &emb,
					IsWellKnown: d.extracted.IsWellKnown,
				}
				if d.extracted.Description != "" {
					desc := d.extracted.Description
					ent.Description = &desc
				}
				created, err := tx.UpsertEntity(ctx, ent)
				if err != nil {
					return fmt.Errorf("consolidation: create entity %q: %w", d.resolvedName, err)
				}
				id = created.ID
			case agents.ActionMatch:
				id = d.resolution.MatchedEntityID
				if d.resolution.UpdateDescription {
					desc := d.extracted.Description
					emb := d.embedding
					if err := tx.UpdateEntity(ctx, id, &desc, &emb); err != nil {
						return fmt.Errorf("consolidation: update entity %q: %w", d.resolvedName, err)
					}
				}
			}
			entityIDs[strings.ToLower(d.resolvedName)] = id
			result.Entities = append(result.Entities, ResolvedEntity{
				ID:          id,
				Name:        d.resolvedName,
				Type:        d.extracted.Type,
				Description: d.extracted.Description,
				Action:      d.resolution.Action,
				IsWellKnown: d.extracted.IsWellKnown,
			})
		}

		for _, pm := range pending {
			validAt := pm.extracted.ValidAt
			if validAt == nil {
				ts := in.Timestamp
				validAt = &ts
			}
			emb := memVecs[pm.extracted.Content]
			mem, err := tx.CreateMemory(ctx, model.Memory{
				Content:   pm.extracted.Content,
				Embedding: &emb,
				ValidAt:   validAt,
			})
			if err != nil {
				return fmt.Errorf("consolidation: create memory: %w", err)
			}

			aboutCount := 0
			for _, name := range pm.extracted.AboutEntities {
				if isUserName(name, knownName) {
					if err := tx.CreateAboutUser(ctx, mem.ID); err != nil {
						return fmt.Errorf("consolidation: about-user edge: %w", err)
					}
					aboutCount++
					continue
				}
				id, ok := entityIDs[strings.ToLower(name)]
				if !ok {
					// Entity was filtered above; the edge has no target.
					continue
				}
				if err := tx.CreateAbout(ctx, mem.ID, id); err != nil {
					return fmt.Errorf("consolidation: about edge: %w", err)
				}
				aboutCount++
			}
			// Every memory keeps at least one ABOUT edge; without one it would
			// be unreachable to graph expansion.
			if aboutCount == 0 {
				if err := tx.CreateAboutUser(ctx, mem.ID); err != nil {
					return fmt.Errorf("consolidation: about-user edge: %w", err)
				}
			}

			if err := tx.CreateExtractedFrom(ctx, mem.ID, note.ID); err != nil {
				return fmt.Errorf("consolidation: extracted-from edge: %w", err)
			}

			var invalidated []string
			if pm.decision.Action == agents.DecisionInvalidate {
				for _, tgt := range pm.decision.Targets {
					if err := tx.CreateInvalidates(ctx, mem.ID, tgt.ExistingMemoryID, tgt.Reason, *validAt); err != nil {
						return fmt.Errorf("consolidation: invalidates edge: %w", err)
					}
					invalidated = append(invalidated, tgt.ExistingMemoryID)
				}
			}

			result.Memories = append(result.Memories, ResolvedMemory{
				ID:             mem.ID,
				Content:        pm.extracted.Content,
				Action:         pm.decision.Action,
				About:          pm.extracted.AboutEntities,
				ValidAt:        validAt,
				InvalidatedIDs: invalidated,
			})
		}

		for _, d := range drafts {
			id := entityIDs[strings.ToLower(d.resolvedName)]
			if id == "" {
				continue
			}
			if err := tx.CreateMentions(ctx, note.ID, id); err != nil {
				return fmt.Errorf("consolidation: mentions edge: %w", err)
			}
		}
		return nil
	})
}

// isUserName reports whether an ABOUT name refers to the user: the literal
// USER token or the user's known display name.
func isUserName(name, knownName string) bool {
	if strings.EqualFold(name, model.UserID) {
		return true
	}
	return knownName != "" && strings.EqualFold(name, knownName)
}
