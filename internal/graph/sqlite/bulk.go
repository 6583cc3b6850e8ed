package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
)

// AboutEntities returns the ABOUT targets per memory. The User singleton is
// reported under its fixed id with the stored display name.
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

	q := `SELECT a.memory_id, a.entity_id, e.name
	      FROM about_edges a LEFT JOIN entities e ON e.id = a.entity_id
	      WHERE a.memory_id IN (` + placeholders(len(memoryIDs)) + `)
	      ORDER BY a.created_at, a.entity_id`
	rows, err := s.db.QueryContext(ctx, q, toAnySlice(memoryIDs)...)
	if err != nil {
		return nil, mapErr("about entities", err)
	}
	defer rows.Close()

	out := make(map[string][]graph.EntityRef, len(memoryIDs))
	for rows.Next() {
		var memoryID, entityID string
		var name sql.NullString
		if err := rows.Scan(&memoryID, &entityID, &name); err != nil {
			return nil, mapErr("about entities", err)
		}
		ref := graph.EntityRef{ID: entityID, Name: name.String}
		if entityID == model.UserID {
			ref.Name = userName
		}
		out[memoryID] = append(out[memoryID], ref)
	}
	return out, mapErr("about entities", rows.Err())
}

// InvalidationChains resolves, per memory, the memories it supersedes, nested
// to at most depth hops.
func (s *Store) InvalidationChains(ctx context.Context, memoryIDs []string, depth int) (map[string][]model.InvalidatedMemory, error) {
	out := make(map[string][]model.InvalidatedMemory, len(memoryIDs))
	for _, id := range memoryIDs {
		chain, err := s.invalidatedBy(ctx, id, depth)
		if err != nil {
			return nil, err
		}
		if len(chain) > 0 {
			out[id] = chain
		}
	}
	return out, nil
}

func (s *Store) invalidatedBy(ctx context.Context, memoryID string, depth int) ([]model.InvalidatedMemory, error) {
	if depth <= 0 {
		return nil, nil
	}
	q := `SELECT m.id, m.content, m.valid_at, m.invalid_at, i.reason
	      FROM invalidates_edges i JOIN memories m ON m.id = i.to_memory_id
	      WHERE i.from_memory_id = ?
	      ORDER BY i.created_at`
	rows, err := s.db.QueryContext(ctx, q, memoryID)
	if err != nil {
		return nil, mapErr("invalidation chain", err)
	}
	defer rows.Close()

	var chain []model.InvalidatedMemory
	for rows.Next() {
		var (
			im      model.InvalidatedMemory
			valid   sql.NullString
			invalid sql.NullString
			reason  string
		)
		if err := rows.Scan(&im.ID, &im.Content, &valid, &invalid, &reason); err != nil {
			return nil, mapErr("invalidation chain", err)
		}
		if im.ValidAt, err = parseNullTime(valid); err != nil {
			return nil, mapErr("invalidation chain", err)
		}
		if im.InvalidatedAt, err = parseNullTime(invalid); err != nil {
			return nil, mapErr("invalidation chain", err)
		}
		im.Reason = &reason
		chain = append(chain, im)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("invalidation chain", err)
	}

	for i := range chain {
		nested, err := s.invalidatedBy(ctx, chain[i].ID, depth-1)
		if err != nil {
			return nil, err
		}
		chain[i].Invalidated = nested
	}
	return chain, nil
}

// ProvenanceNotes returns the source note per memory. Memories without an
// EXTRACTED_FROM edge are omitted.
func (s *Store) ProvenanceNotes(ctx context.Context, memoryIDs []string) (map[string]model.Note, error) {
	if len(memoryIDs) == 0 {
		return map[string]model.Note{}, nil
	}
	q := `SELECT x.memory_id, n.id, n.content, n.timestamp, n.created_at
	      FROM extracted_from_edges x JOIN notes n ON n.id = x.note_id
	      WHERE x.memory_id IN (` + placeholders(len(memoryIDs)) + `)`
	rows, err := s.db.QueryContext(ctx, q, toAnySlice(memoryIDs)...)
	if err != nil {
		return nil, mapErr("provenance notes", err)
	}
	defer rows.Close()

	out := make(map[string]model.Note, len(memoryIDs))
	for rows.Next() {
		var memoryID, ts, created string
		var n model.Note
		if err := rows.Scan(&memoryID, &n.ID, &n.Content, &ts, &created); err != nil {
			return nil, mapErr("provenance notes", err)
		}
		if n.Timestamp, err = parseTime(ts); err != nil {
			return nil, mapErr("provenance notes", err)
		}
		if n.CreatedAt, err = parseTime(created); err != nil {
			return nil, mapErr("provenance notes", err)
		}
		out[memoryID] = n
	}
	return out, mapErr("provenance notes", rows.Err())
}
