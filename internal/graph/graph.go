// Package graph defines the abstract knowledge-graph contract the memory
// engine depends on: node and edge persistence, vector / full-text / hybrid
// search, a personalized-PageRank primitive, bulk context reads, and atomic
// transactions.
//
// Two implementations exist: postgres (pgx + pgvector, the production
// backend) and sqlite (modernc.org/sqlite, for development and tests). The
// engine never imports a backend directly — everything goes through Store.
package graph

import (
	"context"
	"errors"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/memento/internal/model"
)

// ErrNotFound is returned when a requested node does not exist.
var ErrNotFound = errors.New("graph: not found")

// ErrConstraint is returned on unique-constraint violations. Never retried.
var ErrConstraint = errors.New("graph: constraint violation")

// MemoryHit is a memory with a search or walk score.
type MemoryHit struct {
	Memory model.Memory
	Score  float64
}

// EntityHit is an entity with a search score.
type EntityHit struct {
	Entity model.Entity
	Score  float64
}

// EntityRef pairs an entity id with its name, as returned by bulk ABOUT reads.
type EntityRef struct {
	ID   string
	Name string
}

// Reader is the read-side contract shared by the pipelines.
type Reader interface {
	// GetEntityByID returns the entity with the given id, or ErrNotFound.
	GetEntityByID(ctx context.Context, id string) (model.Entity, error)

	// GetEntityByName returns the entity with the given (unique) name, or ErrNotFound.
	GetEntityByName(ctx context.Context, name string) (model.Entity, error)

	// GetEntityInfosByName hydrates entities with their ABOUT-degree and user
	// flag. Names matching the User's display name (or the USER token) come
	// back with IsUser set. Unknown names are silently omitted.
	GetEntityInfosByName(ctx context.Context, names []string) ([]model.EntityInfo, error)

	// GetMemoryByID returns the memory with the given id, or ErrNotFound.
	GetMemoryByID(ctx context.Context, id string) (model.Memory, error)

	// GetMemoriesByIDs returns the memories with the given ids in unspecified
	// order. Unknown ids are silently omitted.
	GetMemoriesByIDs(ctx context.Context, ids []string) ([]model.Memory, error)

	// GetUser returns the singleton User node, or ErrNotFound before the
	// first consolidation creates it.
	GetUser(ctx context.Context) (model.User, error)

	// SearchMemoriesByVector returns up to k memories by cosine similarity.
	// With validOnly set, memories whose InvalidAt is non-nil are excluded.
	SearchMemoriesByVector(ctx context.Context, embedding pgvector.Vector, k int, validOnly bool) ([]MemoryHit, error)

	// SearchMemoriesByText returns up to k memories by full-text relevance.
	SearchMemoriesByText(ctx context.Context, query string, k int, validOnly bool) ([]MemoryHit, error)

	// SearchEntitiesHybrid fuses vector and full-text search over entities
	// with reciprocal-rank fusion and returns the top k.
	SearchEntitiesHybrid(ctx context.Context, query string, embedding pgvector.Vector, k int) ([]EntityHit, error)

	// PersonalizedPageRank walks the ABOUT graph from the given source
	// entities (id -> restart weight, expected to sum to 1) and returns up to
	// limit valid memories scored by visit probability.
	PersonalizedPageRank(ctx context.Context, sources map[string]float64, damping float64, iterations, limit int) ([]MemoryHit, error)

	// AboutEntities returns, per memory id, the entities the memory is ABOUT.
	// The User singleton appears as an EntityRef with ID model.UserID.
	AboutEntities(ctx context.Context, memoryIDs []string) (map[string][]EntityRef, error)

	// InvalidationChains returns, per memory id, the chain of memories it
	// invalidates, nested to at most depth hops, with per-edge reasons.
	InvalidationChains(ctx context.Context, memoryIDs []string, depth int) (map[string][]model.InvalidatedMemory, error)

	// ProvenanceNotes returns, per memory id, the note the memory was
	// extracted from. Memories without an EXTRACTED_FROM edge are omitted.
	ProvenanceNotes(ctx context.Context, memoryIDs []string) (map[string]model.Note, error)
}

// Tx is the write-only handle passed to ExecuteTransaction callbacks. Every
// operation either commits with the whole transaction or not at all.
type Tx interface {
	// CreateNote inserts an immutable note, assigning an id when absent.
	CreateNote(ctx context.Context, n model.Note) (model.Note, error)

	// CreateMemory inserts a memory, assigning an id when absent.
	CreateMemory(ctx context.Context, m model.Memory) (model.Memory, error)

	// UpsertEntity creates an entity or merges by name. On merge the stored
	// Type and IsWellKnown are preserved; Description and Embedding are
	// updated when non-nil.
	UpsertEntity(ctx context.Context, e model.Entity) (model.Entity, error)

	// UpdateEntity replaces the description and embedding of an existing entity.
	UpdateEntity(ctx context.Context, id string, description *string, embedding *pgvector.Vector) error

	// GetOrCreateUser returns the singleton User, creating it with the given
	// name and embedding when absent.
	GetOrCreateUser(ctx context.Context, name string, embedding *pgvector.Vector) (model.User, error)

	// UpdateUser updates the User's name, description, and embedding. Nil
	// fields are left unchanged.
	UpdateUser(ctx context.Context, name, description *string, embedding *pgvector.Vector) error

	// CreateAbout links a memory to an entity it is about.
	CreateAbout(ctx context.Context, memoryID, entityID string) error

	// CreateAboutUser links a memory to the User singleton. Idempotent: a
	// second call for the same memory is a no-op.
	CreateAboutUser(ctx context.Context, memoryID string) error

	// CreateExtractedFrom records a memory's provenance note.
	CreateExtractedFrom(ctx context.Context, memoryID, noteID string) error

	// CreateMentions links a note to an entity it mentions, deduplicated per
	// (note, entity) pair.
	CreateMentions(ctx context.Context, noteID, entityID string) error

	// CreateInvalidates records that fromMemoryID supersedes toMemoryID with
	// the given reason, and sets the target's InvalidAt to effectiveAt.
	CreateInvalidates(ctx context.Context, fromMemoryID, toMemoryID, reason string, effectiveAt time.Time) error
}

// Store is the full graph contract: reads plus atomic writes.
type Store interface {
	Reader

	// ExecuteTransaction runs fn with a write handle. Either every operation
	// in fn commits, or none does.
	ExecuteTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the backend's resources.
	Close(ctx context.Context) error
}
