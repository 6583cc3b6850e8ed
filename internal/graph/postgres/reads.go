package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
)

const entityCols = "id, name, type, description, embedding, is_well_known, created_at, updated_at"
const memoryCols = "id, content, embedding, created_at, valid_at, invalid_at"

func scanEntity(row pgx.Row) (model.Entity, error) {
	var e model.Entity
	err := row.Scan(&e.ID, &e.Name, &e.Type, &e.Description, &e.Embedding,
		&e.IsWellKnown, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func scanMemory(row pgx.Row) (model.Memory, error) {
	var m model.Memory
	err := row.Scan(&m.ID, &m.Content, &m.Embedding, &m.CreatedAt, &m.ValidAt, &m.InvalidAt)
	return m, err
}

// GetEntityByID returns the entity with the given id.
func (s *Store) GetEntityByID(ctx context.Context, id string) (model.Entity, error) {
	e, err := scanEntity(s.pool.QueryRow(ctx,
		`SELECT `+entityCols+` FROM entities WHERE id = $1`, id))
	if err != nil {
		return model.Entity{}, mapErr("get entity", err)
	}
	return e, nil
}

// GetEntityByName returns the entity with the given name, case-insensitively.
func (s *Store) GetEntityByName(ctx context.Context, name string) (model.Entity, error) {
	e, err := scanEntity(s.pool.QueryRow(ctx,
		`SELECT `+entityCols+` FROM entities WHERE lower(name) = lower($1)`, name))
	if err != nil {
		return model.Entity{}, mapErr("get entity by name", err)
	}
	return e, nil
}

// GetMemoryByID returns the memory with the given id.
func (s *Store) GetMemoryByID(ctx context.Context, id string) (model.Memory, error) {
	m, err := scanMemory(s.pool.QueryRow(ctx,
		`SELECT `+memoryCols+` FROM memories WHERE id = $1`, id))
	if err != nil {
		return model.Memory{}, mapErr("get memory", err)
	}
	return m, nil
}

// GetMemoriesByIDs returns the memories with the given ids. Unknown ids are
// omitted.
func (s *Store) GetMemoriesByIDs(ctx context.Context, ids []string) ([]model.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryCols+` FROM memories WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, mapErr("get memories", err)
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, mapErr("get memories", err)
		}
		memories = append(memories, m)
	}
	return memories, mapErr("get memories", rows.Err())
}

// GetUser returns the User singleton.
func (s *Store) GetUser(ctx context.Context) (model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, embedding, created_at, updated_at FROM users WHERE id = $1`,
		model.UserID,
	).Scan(&u.ID, &u.Name, &u.Description, &u.Embedding, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, mapErr("get user", err)
	}
	return u, nil
}

// GetEntityInfosByName hydrates entities with ABOUT-degree. Names matching
// the User's display name or the USER token resolve to the singleton, emitted
// at most once. Unknown names are omitted.
func (s *Store) GetEntityInfosByName(ctx context.Context, names []string) ([]model.EntityInfo, error) {
	user, err := s.GetUser(ctx)
	if err != nil && !errors.Is(err, graph.ErrNotFound) {
		return nil, err
	}
	hasUser := err == nil

	infos := make([]model.EntityInfo, 0, len(names))
	seen := make(map[string]bool, len(names))
	userAdded := false
	for _, name := range names {
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		if hasUser && (strings.EqualFold(name, model.UserID) || strings.EqualFold(name, user.Name)) {
			if userAdded {
				continue
			}
			userAdded = true
			degree, err := s.aboutDegree(ctx, model.UserID)
			if err != nil {
				return nil, err
			}
			infos = append(infos, model.EntityInfo{
				Entity: model.Entity{
					ID:          user.ID,
					Name:        user.Name,
					Description: user.Description,
					Embedding:   user.Embedding,
					CreatedAt:   user.CreatedAt,
					UpdatedAt:   user.UpdatedAt,
				},
				Degree: degree,
				IsUser: true,
			})
			continue
		}

		e, err := s.GetEntityByName(ctx, name)
		if errors.Is(err, graph.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		degree, err := s.aboutDegree(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		infos = append(infos, model.EntityInfo{Entity: e, Degree: degree})
	}
	return infos, nil
}

func (s *Store) aboutDegree(ctx context.Context, entityID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM about_edges WHERE entity_id = $1`, entityID).Scan(&n)
	if err != nil {
		return 0, mapErr("about degree", err)
	}
	return n, nil
}
