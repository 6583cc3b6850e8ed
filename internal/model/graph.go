// Package model defines the knowledge-graph node and edge types and the
// retrieval wire contract shared by the storage backends and the pipelines.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// UserID is the fixed identifier of the singleton User node. Memory content
// refers to the graph owner with this literal token; the display name lives
// on the node itself.
const UserID = "USER"

// EntityType classifies an entity. The set is closed — the extraction agent
// is constrained to these seven values and the resolver rejects anything else.
type EntityType string

const (
	EntityPerson       EntityType = "Person"
	EntityOrganization EntityType = "Organization"
	EntityProject      EntityType = "Project"
	EntityTechnology   EntityType = "Technology"
	EntityLocation     EntityType = "Location"
	EntityEvent        EntityType = "Event"
	EntityConcept      EntityType = "Concept"
)

// ValidEntityType reports whether t is one of the seven closed entity types.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityPerson, EntityOrganization, EntityProject, EntityTechnology,
		EntityLocation, EntityEvent, EntityConcept:
		return true
	}
	return false
}

// NewID returns a time-ordered opaque identifier (UUIDv7).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// User is the singleton node representing the graph owner. Exactly one exists
// per instance; its ID is always the literal UserID.
type User struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description *string          `json:"description,omitempty"`
	Embedding   *pgvector.Vector `json:"-"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Entity is a node for a person, project, technology, etc. Names are globally
// unique. Type and IsWellKnown are set on creation and never change; the
// description and embedding may be updated on merge.
type Entity struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Type        EntityType       `json:"type"`
	Description *string          `json:"description,omitempty"`
	Embedding   *pgvector.Vector `json:"-"`
	IsWellKnown bool             `json:"is_well_known"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Memory is a single atomic fact extracted from a note. Content is never
// rewritten in place; superseded memories get InvalidAt set and a new memory
// takes over. A memory with InvalidAt == nil is "valid".
type Memory struct {
	ID        string           `json:"id"`
	Content   string           `json:"content"`
	Embedding *pgvector.Vector `json:"-"`
	CreatedAt time.Time        `json:"created_at"`
	ValidAt   *time.Time       `json:"valid_at,omitempty"`
	InvalidAt *time.Time       `json:"invalid_at,omitempty"`
}

// Valid reports whether the memory has not been superseded.
func (m Memory) Valid() bool { return m.InvalidAt == nil }

// Note is the raw user submission that memories were extracted from.
// Immutable after creation.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// EdgeType enumerates the four relationship kinds in the graph.
type EdgeType string

const (
	// EdgeAbout links a Memory to an Entity (or the User) it is about.
	EdgeAbout EdgeType = "ABOUT"
	// EdgeExtractedFrom links a Memory to its provenance Note. Exactly one per memory.
	EdgeExtractedFrom EdgeType = "EXTRACTED_FROM"
	// EdgeMentions links a Note to an Entity it mentions, deduplicated per pair.
	EdgeMentions EdgeType = "MENTIONS"
	// EdgeInvalidates links a superseding Memory to the memory it replaces,
	// carrying a free-text reason.
	EdgeInvalidates EdgeType = "INVALIDATES"
)

// Edge is a directed, typed relationship between two nodes. Reason is only
// populated for INVALIDATES edges.
type Edge struct {
	ID        string    `json:"id"`
	Type      EdgeType  `json:"type"`
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	Reason    *string   `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EntityInfo is an entity hydrated with graph context for weighting and
// output composition: its ABOUT-degree and whether it is the User singleton.
type EntityInfo struct {
	Entity
	Degree int  `json:"degree"`
	IsUser bool `json:"is_user"`
}
