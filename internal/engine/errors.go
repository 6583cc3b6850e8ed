// Package engine defines the error kinds shared by the consolidation and
// retrieval pipelines. Storage-side kinds (not-found, constraint) live with
// the graph contract; these cover the input and collaborator failures the
// pipelines themselves classify.
package engine

import "errors"

var (
	// ErrInvalidInput marks a malformed note or query (empty content, bad
	// timestamp). Surfaced to the caller; never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAgentSchema marks structurally invalid LLM output that survived
	// every completion strategy and retry.
	ErrAgentSchema = errors.New("agent schema violation")

	// ErrAgentAlignment marks a resolver response whose list length or entity
	// names do not line up with its input. Not retryable: the prompt or input
	// must change.
	ErrAgentAlignment = errors.New("agent alignment violation")

	// ErrDependencyUnavailable marks an embedding or LLM call that failed
	// after its client's own retries.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
