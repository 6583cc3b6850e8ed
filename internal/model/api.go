package model

import "time"

// MaxNoteContentLen caps a single note submission. Oversized notes would
// blow up the extraction prompts and fill the notes table with
// caller-controlled garbage.
const MaxNoteContentLen = 64 * 1024 // 64 KB

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnavailable   = "UPSTREAM_UNAVAILABLE"
)

// AddNoteRequest is the request body for POST /v1/notes.
type AddNoteRequest struct {
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"` // defaults to receipt time
}

// NoteAccepted is the response body for an asynchronously queued note.
type NoteAccepted struct {
	Queued bool `json:"queued"`
}

// NoteResult is the response body for a synchronously consolidated note.
type NoteResult struct {
	NoteID     string       `json:"note_id,omitempty"`
	Skipped    bool         `json:"skipped"`
	SkipReason string       `json:"skip_reason,omitempty"`
	Entities   []NoteEntity `json:"entities,omitempty"`
	Memories   []NoteMemory `json:"memories,omitempty"`
	LLMCalls   int64        `json:"llm_calls"`
}

// NoteEntity is one entity touched by a consolidation run.
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

// RetrieveRequest is the request body for POST /v1/retrieve.
type RetrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"` // 0 means server default
}

// HealthResponse is the response for GET /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Graph      string `json:"graph"`
	Qdrant     string `json:"qdrant,omitempty"`
	QueueDepth int    `json:"queue_depth"`
	Uptime     int64  `json:"uptime_seconds"`
}
