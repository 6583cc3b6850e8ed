// Package llm provides structured-JSON completion against OpenAI-compatible
// and Ollama chat APIs.
//
// Both clients work through tiered strategies: the most capable structured-
// output mode the provider offers first, degrading to prompt-level JSON
// extraction. Each strategy is retried once with error feedback before the
// client falls back to the next, so CompleteJSON fails only when every tier
// fails.
package llm

import (
	"context"
	"encoding/json"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a structured completion request. Schema is a JSON Schema
// document carried as data; SchemaName labels it for providers that require
// a name (OpenAI json_schema mode, tool calls).
type Request struct {
	Messages    []Message
	SchemaName  string
	Schema      map[string]any
	Temperature float64
	MaxTokens   int
}

// Client produces a JSON document satisfying the request schema.
type Client interface {
	CompleteJSON(ctx context.Context, req Request) (json.RawMessage, error)
}

// strategyAttempts is how many times one strategy is tried (initial call plus
// feedback retries) before the client falls back to the next tier.
const strategyAttempts = 2

// feedbackMessages appends the failed output and a correction request so the
// strategy's retry sees what went wrong.
func feedbackMessages(msgs []Message, badOutput, cause string) []Message {
	out := make([]Message, 0, len(msgs)+2)
	out = append(out, msgs...)
	out = append(out,
		Message{Role: "assistant", Content: badOutput},
		Message{Role: "user", Content: "Your previous response was not valid JSON for the required schema (" + cause + "). Respond again with only a JSON document matching the schema."},
	)
	return out
}
