package memento

import "time"

// AddNoteRequest is the body for POST /v1/notes.
type AddNoteRequest struct {
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// NoteAccepted is returned when the server runs with asynchronous note
// intake: the note is queued and consolidation happens later.
type NoteAccepted struct {
	Queued bool `json:"queued"`
}

// NoteResult is the outcome of a synchronously consolidated note.
type NoteResult struct {
	NoteID     string       `json:"note_id,omitempty"`
	Skipped    bool         `json:"skipped"`
	SkipReason string       `json:"skip_reason,omitempty"`
	Entities   []NoteEntity `json:"entities,omitempty"`
	Memories   []NoteMemory `json:"memories,omitempty"`
	LLMCalls   int64        `json:"llm_calls"`
}

// NoteEntity is one knowledge-graph entity touched by a consolidation run.
type NoteEntity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Action string `json:"action"` // "CREATE" or "MATCH"
}

// NoteMemory is one memory written by a consolidation run.
type NoteMemory struct {
	ID             string     `json:"id"`
	Content        string     `json:"content"`
	About          []string   `json:"about,omitempty"`
	ValidAt        *time.Time `json:"valid_at,omitempty"`
	InvalidatedIDs []string   `json:"invalidated_ids,omitempty"`
}

// RetrieveRequest is the body for POST /v1/retrieve.
type RetrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// RetrievalResult is the retrieval pipeline output.
type RetrievalResult struct {
	Query    string            `json:"query"`
	Entities []RetrievedEntity `json:"entities"`
	Memories []RetrievedMemory `json:"memories"`
	Meta     RetrievalMeta     `json:"meta"`
}

// RetrievalMeta carries pipeline accounting.
type RetrievalMeta struct {
	TotalCandidates int   `json:"totalCandidates"`
	DurationMs      int64 `json:"durationMs"`
}

// RetrievedEntity is an entity referenced by at least one selected memory.
type RetrievedEntity struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description *string `json:"description"`
	IsWellKnown bool    `json:"isWellKnown"`
	IsUser      bool    `json:"isUser"`
	MemoryCount int     `json:"memoryCount"`
}

// RetrievedMemory is one ranked retrieval hit with its graph context.
type RetrievedMemory struct {
	Rank           int                 `json:"rank"`
	ID             string              `json:"id"`
	Content        string              `json:"content"`
	Score          float64             `json:"score"`
	Source         string              `json:"source"`
	About          []string            `json:"about"`
	AboutEntityIDs []string            `json:"aboutEntityIds"`
	ValidAt        *time.Time          `json:"validAt"`
	Invalidates    []InvalidatedMemory `json:"invalidates,omitempty"`
	ExtractedFrom  *Provenance         `json:"extractedFrom,omitempty"`
}

// InvalidatedMemory is one hop of an invalidation chain.
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

// Health is the GET /healthz response.
type Health struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Graph      string `json:"graph"`
	Qdrant     string `json:"qdrant,omitempty"`
	QueueDepth int    `json:"queue_depth"`
	Uptime     int64  `json:"uptime_seconds"`
}
