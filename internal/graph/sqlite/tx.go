package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
)

// ExecuteTransaction runs fn inside a single SQLite transaction.
func (s *Store) ExecuteTransaction(ctx context.Context, fn func(tx graph.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("begin tx", err)
	}
	if err := fn(&tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("sqlite: rollback after %w: %v", err, rbErr)
		}
		return err
	}
	return mapErr("commit tx", sqlTx.Commit())
}

type tx struct {
	tx *sql.Tx
}

var _ graph.Tx = (*tx)(nil)

func (t *tx) CreateNote(ctx context.Context, n model.Note) (model.Note, error) {
	if n.ID == "" {
		n.ID = model.NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO notes (id, content, timestamp, created_at) VALUES (?, ?, ?, ?)",
		n.ID, n.Content, fmtTime(n.Timestamp), fmtTime(n.CreatedAt))
	if err != nil {
		return model.Note{}, mapErr("create note", err)
	}
	return n, nil
}

func (t *tx) CreateMemory(ctx context.Context, m model.Memory) (model.Memory, error) {
	if m.ID == "" {
		m.ID = model.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO memories (id, content, embedding, created_at, valid_at, invalid_at) VALUES (?, ?, ?, ?, ?, ?)",
		m.ID, m.Content, encodeVector(m.Embedding), fmtTime(m.CreatedAt),
		fmtNullTime(m.ValidAt), fmtNullTime(m.InvalidAt))
	if err != nil {
		return model.Memory{}, mapErr("create memory", err)
	}
	return m, nil
}

// UpsertEntity creates the entity or merges by name. Type and IsWellKnown are
// immutable on merge; description and embedding are refreshed when provided.
func (t *tx) UpsertEntity(ctx context.Context, e model.Entity) (model.Entity, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+entityCols+" FROM entities WHERE name = ? COLLATE NOCASE", e.Name)
	existing, err := scanEntity(row)
	switch {
	case err == nil:
		if err := t.UpdateEntity(ctx, existing.ID, e.Description, e.Embedding); err != nil {
			return model.Entity{}, err
		}
		if e.Description != nil {
			existing.Description = e.Description
		}
		if e.Embedding != nil {
			existing.Embedding = e.Embedding
		}
		return existing, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return model.Entity{}, mapErr("upsert entity", err)
	}

	if e.ID == "" {
		e.ID = model.NewID()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	wellKnown := 0
	if e.IsWellKnown {
		wellKnown = 1
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO entities (id, name, type, description, embedding, is_well_known, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, string(e.Type), nullStr(e.Description), encodeVector(e.Embedding),
		wellKnown, fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt))
	if err != nil {
		return model.Entity{}, mapErr("upsert entity", err)
	}
	return e, nil
}

func (t *tx) UpdateEntity(ctx context.Context, id string, description *string, embedding *pgvector.Vector) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE entities SET
		   description = COALESCE(?, description),
		   embedding   = COALESCE(?, embedding),
		   updated_at  = ?
		 WHERE id = ?`,
		nullStr(description), encodeVector(embedding), fmtTime(time.Now()), id)
	if err != nil {
		return mapErr("update entity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("update entity", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: update entity %s: %w", id, graph.ErrNotFound)
	}
	return nil
}

func (t *tx) GetOrCreateUser(ctx context.Context, name string, embedding *pgvector.Vector) (model.User, error) {
	var (
		u        model.User
		emb      []byte
		created  string
		updated  string
		descNull sql.NullString
	)
	row := t.tx.QueryRowContext(ctx,
		"SELECT id, name, description, embedding, created_at, updated_at FROM users WHERE id = ?", model.UserID)
	err := row.Scan(&u.ID, &u.Name, &descNull, &emb, &created, &updated)
	switch {
	case err == nil:
		if descNull.Valid {
			u.Description = &descNull.String
		}
		if u.Embedding, err = decodeVector(emb); err != nil {
			return model.User{}, mapErr("get user", err)
		}
		if u.CreatedAt, err = parseTime(created); err != nil {
			return model.User{}, mapErr("get user", err)
		}
		if u.UpdatedAt, err = parseTime(updated); err != nil {
			return model.User{}, mapErr("get user", err)
		}
		return u, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to create
	default:
		return model.User{}, mapErr("get user", err)
	}

	now := time.Now().UTC()
	u = model.User{ID: model.UserID, Name: name, Embedding: embedding, CreatedAt: now, UpdatedAt: now}
	_, err = t.tx.ExecContext(ctx,
		"INSERT INTO users (id, name, description, embedding, created_at, updated_at) VALUES (?, ?, NULL, ?, ?, ?)",
		u.ID, u.Name, encodeVector(u.Embedding), fmtTime(now), fmtTime(now))
	if err != nil {
		return model.User{}, mapErr("create user", err)
	}
	return u, nil
}

func (t *tx) UpdateUser(ctx context.Context, name, description *string, embedding *pgvector.Vector) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE users SET
		   name        = COALESCE(?, name),
		   description = COALESCE(?, description),
		   embedding   = COALESCE(?, embedding),
		   updated_at  = ?
		 WHERE id = ?`,
		nullStr(name), nullStr(description), encodeVector(embedding), fmtTime(time.Now()), model.UserID)
	if err != nil {
		return mapErr("update user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("update user", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: update user: %w", graph.ErrNotFound)
	}
	return nil
}

func (t *tx) CreateAbout(ctx context.Context, memoryID, entityID string) error {
	return t.insertEdge(ctx, "about", memoryID, entityID,
		"INSERT OR IGNORE INTO about_edges (memory_id, entity_id, created_at) VALUES (?, ?, ?)")
}

func (t *tx) CreateAboutUser(ctx context.Context, memoryID string) error {
	return t.insertEdge(ctx, "about user", memoryID, model.UserID,
		"INSERT OR IGNORE INTO about_edges (memory_id, entity_id, created_at) VALUES (?, ?, ?)")
}

func (t *tx) CreateExtractedFrom(ctx context.Context, memoryID, noteID string) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO extracted_from_edges (memory_id, note_id, created_at) VALUES (?, ?, ?)",
		memoryID, noteID, fmtTime(time.Now()))
	return mapErr("create extracted-from", err)
}

func (t *tx) CreateMentions(ctx context.Context, noteID, entityID string) error {
	return t.insertEdge(ctx, "mentions", noteID, entityID,
		"INSERT OR IGNORE INTO mentions_edges (note_id, entity_id, created_at) VALUES (?, ?, ?)")
}

func (t *tx) CreateInvalidates(ctx context.Context, fromMemoryID, toMemoryID, reason string, effectiveAt time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO invalidates_edges (from_memory_id, to_memory_id, reason, effective_at, created_at) VALUES (?, ?, ?, ?, ?)",
		fromMemoryID, toMemoryID, reason, fmtTime(effectiveAt), fmtTime(time.Now()))
	if err != nil {
		return mapErr("create invalidates", err)
	}

	res, err := t.tx.ExecContext(ctx,
		"UPDATE memories SET invalid_at = ? WHERE id = ?", fmtTime(effectiveAt), toMemoryID)
	if err != nil {
		return mapErr("invalidate memory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("invalidate memory", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: invalidate memory %s: %w", toMemoryID, graph.ErrNotFound)
	}
	return nil
}

func (t *tx) insertEdge(ctx context.Context, kind, fromID, toID, query string) error {
	_, err := t.tx.ExecContext(ctx, query, fromID, toID, fmtTime(time.Now()))
	return mapErr("create "+kind, err)
}
