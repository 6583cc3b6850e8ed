// Package sqlite implements the graph contract on a single-file SQLite
// database via modernc.org/sqlite. It is the development and test backend:
// vector search is brute-force cosine over all rows and full-text search is
// term matching, both fine at personal-graph scale. Production deployments
// use the postgres backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY CHECK (id = 'USER'),
	name        TEXT NOT NULL,
	description TEXT,
	embedding   BLOB,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE COLLATE NOCASE,
	type          TEXT NOT NULL,
	description   TEXT,
	embedding     BLOB,
	is_well_known INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	embedding  BLOB,
	created_at TEXT NOT NULL,
	valid_at   TEXT,
	invalid_at TEXT
);

CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	created_at TEXT NOT NULL
);

-- entity_id may also hold the USER singleton id, which lives in users, so no FK.
CREATE TABLE IF NOT EXISTS about_edges (
	memory_id  TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	entity_id  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (memory_id, entity_id)
);

CREATE TABLE IF NOT EXISTS extracted_from_edges (
	memory_id  TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
	note_id    TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mentions_edges (
	note_id    TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	created_at TEXT NOT NULL,
	PRIMARY KEY (note_id, entity_id)
);

CREATE TABLE IF NOT EXISTS invalidates_edges (
	from_memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	to_memory_id   TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	reason         TEXT NOT NULL,
	effective_at   TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	PRIMARY KEY (from_memory_id, to_memory_id)
);

CREATE INDEX IF NOT EXISTS idx_about_entity ON about_edges(entity_id);
CREATE INDEX IF NOT EXISTS idx_mentions_entity ON mentions_edges(entity_id);
CREATE INDEX IF NOT EXISTS idx_invalidates_to ON invalidates_edges(to_memory_id);
`

// Store implements graph.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ graph.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and initializes the
// schema. Pass ":memory:" for an ephemeral test database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite has a single writer; a second connection to :memory: would also
	// see a different database entirely.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// Ping verifies the database handle is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// mapErr translates driver errors into the graph sentinels, preserving the
// original via %w.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: %s: %w", op, graph.ErrNotFound)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT,
			sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("sqlite: %s: %w", op, graph.ErrConstraint)
		}
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (model.Entity, error) {
	var (
		e          model.Entity
		emb        []byte
		created    string
		updated    string
		isKnown    int64
		descNull   sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Name, (*string)(&e.Type), &descNull, &emb, &isKnown, &created, &updated); err != nil {
		return model.Entity{}, err
	}
	if descNull.Valid {
		e.Description = &descNull.String
	}
	var err error
	if e.Embedding, err = decodeVector(emb); err != nil {
		return model.Entity{}, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return model.Entity{}, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Entity{}, err
	}
	e.IsWellKnown = isKnown != 0
	return e, nil
}

func scanMemory(row rowScanner) (model.Memory, error) {
	var (
		m       model.Memory
		emb     []byte
		created string
		valid   sql.NullString
		invalid sql.NullString
	)
	if err := row.Scan(&m.ID, &m.Content, &emb, &created, &valid, &invalid); err != nil {
		return model.Memory{}, err
	}
	var err error
	if m.Embedding, err = decodeVector(emb); err != nil {
		return model.Memory{}, err
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return model.Memory{}, err
	}
	if m.ValidAt, err = parseNullTime(valid); err != nil {
		return model.Memory{}, err
	}
	if m.InvalidAt, err = parseNullTime(invalid); err != nil {
		return model.Memory{}, err
	}
	return m, nil
}

const entityCols = "id, name, type, description, embedding, is_well_known, created_at, updated_at"
const memoryCols = "id, content, embedding, created_at, valid_at, invalid_at"

// GetEntityByID returns the entity with the given id.
func (s *Store) GetEntityByID(ctx context.Context, id string) (model.Entity, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entityCols+" FROM entities WHERE id = ?", id)
	e, err := scanEntity(row)
	if err != nil {
		return model.Entity{}, mapErr("get entity", err)
	}
	return e, nil
}

// GetEntityByName returns the entity with the given name, case-insensitively.
func (s *Store) GetEntityByName(ctx context.Context, name string) (model.Entity, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entityCols+" FROM entities WHERE name = ? COLLATE NOCASE", name)
	e, err := scanEntity(row)
	if err != nil {
		return model.Entity{}, mapErr("get entity by name", err)
	}
	return e, nil
}

// GetMemoryByID returns the memory with the given id.
func (s *Store) GetMemoryByID(ctx context.Context, id string) (model.Memory, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+memoryCols+" FROM memories WHERE id = ?", id)
	m, err := scanMemory(row)
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
	q := "SELECT " + memoryCols + " FROM memories WHERE id IN (" + placeholders(len(ids)) + ")"
	rows, err := s.db.QueryContext(ctx, q, toAnySlice(ids)...)
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
	var (
		u        model.User
		emb      []byte
		created  string
		updated  string
		descNull sql.NullString
	)
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, embedding, created_at, updated_at FROM users WHERE id = ?", model.UserID)
	if err := row.Scan(&u.ID, &u.Name, &descNull, &emb, &created, &updated); err != nil {
		return model.User{}, mapErr("get user", err)
	}
	if descNull.Valid {
		u.Description = &descNull.String
	}
	var err error
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
}

// GetEntityInfosByName hydrates entities (and the User, when a name matches
// its display name or the USER token) with ABOUT-degree. Unknown names are
// omitted.
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
			// The display name and the USER token both resolve here; emit once.
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
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM about_edges WHERE entity_id = ?", entityID).Scan(&n)
	if err != nil {
		return 0, mapErr("about degree", err)
	}
	return n, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
