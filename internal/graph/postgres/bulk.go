package postgres

import (
	"context"
	"errors"

	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
)

// AboutEntities returns the ABOUT targets per memory, with the User singleton
// reported under its fixed id and stored display name.
func (s *Store) AboutEntities(ctx context.Context, memoryIDs []string) (map[string][]graph.EntityRef, error) {
	if len(memoryIDs) == 0 {
		return map[string][]graph.EntityRef{}, nil
	}

	userName := model.UserID
	if u, err := s.GetUser(ctx); err == nil {
		userName = u.Name
	} else if !errors.Is(err, graph.ErrNotFound) {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT a.memory_id, a.entity_id, coalesce(e.name, '')
		 FROM about_edges a LEFT JOIN entities e ON e.id = a.entity_id
		 WHERE a.memory_id = ANY($1)
		 ORDER BY a.created_at, a.entity_id`, memoryIDs)
	if err != nil {
		return nil, mapErr("about entities", err)
	}
	defer rows.Close()

	out := make(map[string][]graph.EntityRef, len(memoryIDs))
	for rows.Next() {
		var memoryID, entityID, name string
		if err := rows.Scan(&memoryID, &entityID, &name); err != nil {
			return nil, mapErr("about entities", err)
		}
		if entityID == model.UserID {
			name = userName
		}
		out[memoryID] = append(out[memoryID], graph.EntityRef{ID: entityID, Name: name})
	}
	return out, mapErr("about entities", rows.Err())
}

// InvalidationChains resolves superseded memories level by level, bounded at
// depth hops. Each level is one batched query over the frontier.
func (s *Store) InvalidationChains(ctx context.Context, memoryIDs []string, depth int) (map[string][]model.InvalidatedMemory, error) {
	out := make(map[string][]model.InvalidatedMemory, len(memoryIDs))
	if depth <= 0 || len(memoryIDs) == 0 {
		return out, nil
	}

	type edge struct {
		from string
		im   model.InvalidatedMemory
	}

	frontier := memoryIDs
	// children[level] groups the edges discovered at that level by parent id.
	levels := make([]map[string][]model.InvalidatedMemory, 0, depth)

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		rows, err := s.pool.Query(ctx,
			`SELECT i.from_memory_id, m.id, m.content, m.valid_at, m.invalid_at, i.reason
			 FROM invalidates_edges i JOIN memories m ON m.id = i.to_memory_id
			 WHERE i.from_memory_id = ANY($1)
			 ORDER BY i.created_at`, frontier)
		if err != nil {
			return nil, mapErr("invalidation chains", err)
		}

		var edges []edge
		for rows.Next() {
			var e edge
			var reason string
			if err := rows.Scan(&e.from, &e.im.ID, &e.im.Content, &e.im.ValidAt, &e.im.InvalidatedAt, &reason); err != nil {
				rows.Close()
				return nil, mapErr("invalidation chains", err)
			}
			e.im.Reason = &reason
			edges = append(edges, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, mapErr("invalidation chains", err)
		}

		level := make(map[string][]model.InvalidatedMemory)
		next := make([]string, 0, len(edges))
		for _, e := range edges {
			level[e.from] = append(level[e.from], e.im)
			next = append(next, e.im.ID)
		}
		levels = append(levels, level)
		frontier = next
	}

	// Stitch levels bottom-up so nesting lands on the right parents.
	for i := len(levels) - 2; i >= 0; i-- {
		for parent, children := range levels[i] {
			for j := range children {
				children[j].Invalidated = levels[i+1][children[j].ID]
			}
			levels[i][parent] = children
		}
	}
	if len(levels) > 0 {
		for _, id := range memoryIDs {
			if chain, ok := levels[0][id]; ok {
				out[id] = chain
			}
		}
	}
	return out, nil
}

// ProvenanceNotes returns the source note per memory; memories without an
// EXTRACTED_FROM edge are omitted.
func (s *Store) ProvenanceNotes(ctx context.Context, memoryIDs []string) (map[string]model.Note, error) {
	if len(memoryIDs) == 0 {
		return map[string]model.Note{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT x.memory_id, n.id, n.content, n.timestamp, n.created_at
		 FROM extracted_from_edges x JOIN notes n ON n.id = x.note_id
		 WHERE x.memory_id = ANY($1)`, memoryIDs)
	if err != nil {
		return nil, mapErr("provenance notes", err)
	}
	defer rows.Close()

	out := make(map[string]model.Note, len(memoryIDs))
	for rows.Next() {
		var memoryID string
		var n model.Note
		if err := rows.Scan(&memoryID, &n.ID, &n.Content, &n.Timestamp, &n.CreatedAt); err != nil {
			return nil, mapErr("provenance notes", err)
		}
		out[memoryID] = n
	}
	return out, mapErr("provenance notes", rows.Err())
}
