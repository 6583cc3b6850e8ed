package model

import "time"

// Source tags where a retrieved memory was found.
type Source string

const (
	SourceVector   Source = "vector"   // vector search only
	SourceFulltext Source = "fulltext" // full-text search only
	SourceSemPPR   Source = "sem-ppr"  // graph expansion (semantic-PPR)
	SourceMultiple Source = "multiple" // scored by both LAND sources
)

// RetrievalOutput is the stable wire contract of the retrieval pipeline.
type RetrievalOutput struct {
	Query    string            `json:"query"`
	Entities []RetrievedEntity `json:"entities"`
	Memories []RetrievedMemory `json:"memories"`
	Meta     RetrievalMeta     `json:"meta"`
}

// RetrievalMeta carries pipeline accounting for the caller.
type RetrievalMeta struct {
	TotalCandidates int   `json:"totalCandidates"`
	DurationMs      int64 `json:"durationMs"`
}

// RetrievedEntity is an entity referenced by at least one selected memory.
// The User singleton, when present, always sorts first.
type RetrievedEntity struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description *string `json:"description"`
	IsWellKnown bool    `json:"isWellKnown"`
	IsUser      bool    `json:"isUser"`
	MemoryCount int     `json:"memoryCount"`
}

// RetrievedMemory is one ranked result with its graph context. About holds
// display names (the User's real name substituted for the USER token);
// AboutEntityIDs holds the raw node ids in the same order.
type RetrievedMemory struct {
	Rank           int                 `json:"rank"`
	ID             string              `json:"id"`
	Content        string              `json:"content"`
	Score          float64             `json:"score"`
	Source         Source              `json:"source"`
	About          []string            `json:"about"`
	AboutEntityIDs []string            `json:"aboutEntityIds"`
	ValidAt        *time.Time          `json:"validAt"`
	Invalidates    []InvalidatedMemory `json:"invalidates,omitempty"`
	ExtractedFrom  *Provenance         `json:"extractedFrom,omitempty"`
}

// InvalidatedMemory is one hop of an invalidation chain. Nesting is bounded:
// the renderer truncates at two hops, so Invalidated entries never nest further.
type InvalidatedMemory struct {
	ID            string              `json:"id"`
	Content       string              `json:"content"`
	ValidAt       *time.Time          `json:"validAt"`
	InvalidatedAt *time.Time          `json:"invalidatedAt"`
	Reason        *string             `json:"reason"`
	Invalidated   []InvalidatedMemory `json:"invalidated,omitempty"`
}

// Provenance points a memory back at the note it was extracted from.
type Provenance struct {
	NoteID        string    `json:"noteId"`
	NoteContent   string    `json:"noteContent"`
	NoteTimestamp time.Time `json:"noteTimestamp"`
}
