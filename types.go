package memento

import "time"

// NoteResult is the public outcome of one note submission.
// With Queued set, consolidation happens later on the background worker and
// every other field is zero.
type NoteResult struct {
	Queued     bool
	NoteID     string
	Skipped    bool
	SkipReason string
	Entities   []Entity
	Memories   []Memory
}

// Entity is one knowledge-graph entity touched by a consolidation run.
type Entity struct {
	ID     string
	Name   string
	Type   string
	Action string // "CREATE" or "MATCH"
}

// Memory is one memory written by a consolidation run.
type Memory struct {
	ID             string
	Content        string
	About          []string
	ValidAt        *time.Time
	InvalidatedIDs []string
}

// RetrievalResult is the public outcome of one retrieval query.
type RetrievalResult struct {
	Query    string
	Memories []RetrievedMemory
}

// RetrievedMemory is one ranked retrieval hit.
type RetrievedMemory struct {
	Rank    int
	ID      string
	Content string
	Score   float64
	About   []string
	ValidAt *time.Time
}
