package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
)

const (
	txMaxRetries = 3
	txBaseDelay  = 50 * time.Millisecond
)

// isRetriable reports whether err is a transient Postgres conflict.
func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001": // serialization_failure
		return true
	case "40P01": // deadlock_detected
		return true
	default:
		return false
	}
}

// withRetry executes fn, retrying on serialization or deadlock errors with
// jittered exponential backoff.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}

// ExecuteTransaction runs fn in a serializable transaction, retrying the whole
// callback on transient conflicts. fn must be idempotent.
func (s *Store) ExecuteTransaction(ctx context.Context, fn func(tx graph.Tx) error) error {
	return withRetry(ctx, txMaxRetries, txBaseDelay, func() error {
		pgxTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return mapErr("begin tx", err)
		}
		defer func() { _ = pgxTx.Rollback(ctx) }()

		if err := fn(&tx{tx: pgxTx, outbox: s.searchOutbox}); err != nil {
			return err
		}
		return mapErr("commit tx", pgxTx.Commit(ctx))
	})
}

type tx struct {
	tx     pgx.Tx
	outbox bool
}

// enqueueOutbox records a memory change for the search index sync worker.
// Runs inside the caller's transaction, so the row commits with the change.
func (t *tx) enqueueOutbox(ctx context.Context, memoryID, operation string) error {
	if !t.outbox {
		return nil
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO search_outbox (memory_id, operation) VALUES ($1, $2)`,
		memoryID, operation)
	return mapErr("enqueue search outbox", err)
}

var _ graph.Tx = (*tx)(nil)

func (t *tx) CreateNote(ctx context.Context, n model.Note) (model.Note, error) {
	if n.ID == "" {
		n.ID = model.NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO notes (id, content, timestamp, created_at) VALUES ($1, $2, $3, $4)`,
		n.ID, n.Content, n.Timestamp, n.CreatedAt)
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
	_, err := t.tx.Exec(ctx,
		`INSERT INTO memories (id, content, embedding, created_at, valid_at, invalid_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Content, m.Embedding, m.CreatedAt, m.ValidAt, m.InvalidAt)
	if err != nil {
		return model.Memory{}, mapErr("create memory", err)
	}
	if err := t.enqueueOutbox(ctx, m.ID, "upsert"); err != nil {
		return model.Memory{}, err
	}
	return m, nil
}

// UpsertEntity creates the entity or merges by name. Type and IsWellKnown are
// immutable on merge; description and embedding are refreshed when provided.
func (t *tx) UpsertEntity(ctx context.Context, e model.Entity) (model.Entity, error) {
	existing, err := scanEntity(t.tx.QueryRow(ctx,
		`SELECT `+entityCols+` FROM entities WHERE lower(name) = lower($1)`, e.Name))
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
	case errors.Is(err, pgx.ErrNoRows):
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
	_, err = t.tx.Exec(ctx,
		`INSERT INTO entities (id, name, type, description, embedding, is_well_known, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Name, e.Type, e.Description, e.Embedding, e.IsWellKnown, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return model.Entity{}, mapErr("upsert entity", err)
	}
	return e, nil
}

func (t *tx) UpdateEntity(ctx context.Context, id string, description *string, embedding *pgvector.Vector) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE entities SET
		   description = coalesce($1, description),
		   embedding   = coalesce($2, embedding),
		   updated_at  = now()
		 WHERE id = $3`,
		description, embedding, id)
	if err != nil {
		return mapErr("update entity", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update entity %s: %w", id, graph.ErrNotFound)
	}
	return nil
}

func (t *tx) GetOrCreateUser(ctx context.Context, name string, embedding *pgvector.Vector) (model.User, error) {
	var u model.User
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, description, embedding, created_at, updated_at FROM users WHERE id = $1`,
		model.UserID,
	).Scan(&u.ID, &u.Name, &u.Description, &u.Embedding, &u.CreatedAt, &u.UpdatedAt)
	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to create
	default:
		return model.User{}, mapErr("get user", err)
	}

	now := time.Now().UTC()
	u = model.User{ID: model.UserID, Name: name, Embedding: embedding, CreatedAt: now, UpdatedAt: now}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO users (id, name, embedding, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Name, u.Embedding, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return model.User{}, mapErr("create user", err)
	}
	return u, nil
}

func (t *tx) UpdateUser(ctx context.Context, name, description *string, embedding *pgvector.Vector) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE users SET
		   name        = coalesce($1, name),
		   description = coalesce($2, description),
		   embedding   = coalesce($3, embedding),
		   updated_at  = now()
		 WHERE id = $4`,
		name, description, embedding, model.UserID)
	if err != nil {
		return mapErr("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update user: %w", graph.ErrNotFound)
	}
	return nil
}

func (t *tx) CreateAbout(ctx context.Context, memoryID, entityID string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO about_edges (memory_id, entity_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		memoryID, entityID)
	return mapErr("create about", err)
}

func (t *tx) CreateAboutUser(ctx context.Context, memoryID string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO about_edges (memory_id, entity_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		memoryID, model.UserID)
	return mapErr("create about user", err)
}

func (t *tx) CreateExtractedFrom(ctx context.Context, memoryID, noteID string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO extracted_from_edges (memory_id, note_id) VALUES ($1, $2)`,
		memoryID, noteID)
	return mapErr("create extracted-from", err)
}

func (t *tx) CreateMentions(ctx context.Context, noteID, entityID string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO mentions_edges (note_id, entity_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		noteID, entityID)
	return mapErr("create mentions", err)
}

func (t *tx) CreateInvalidates(ctx context.Context, fromMemoryID, toMemoryID, reason string, effectiveAt time.Time) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO invalidates_edges (from_memory_id, to_memory_id, reason, effective_at)
		 VALUES ($1, $2, $3, $4)`,
		fromMemoryID, toMemoryID, reason, effectiveAt)
	if err != nil {
		return mapErr("create invalidates", err)
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE memories SET invalid_at = $1 WHERE id = $2`, effectiveAt, toMemoryID)
	if err != nil {
		return mapErr("invalidate memory", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: invalidate memory %s: %w", toMemoryID, graph.ErrNotFound)
	}
	// The index holds only valid memories; evict the superseded one.
	return t.enqueueOutbox(ctx, toMemoryID, "delete")
}
