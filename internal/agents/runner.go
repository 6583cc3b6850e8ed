// Package agents defines the five consolidation agents as data (prompt,
// input formatter, output schema) plus a generic runner. The runner is one
// function parametric over an agent's input and output types; there is no
// agent class hierarchy.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ashita-ai/memento/internal/engine"
	"github.com/ashita-ai/memento/internal/llm"
)

// Stats counts LLM activity for one request. Counters are atomic because the
// two consolidation branches run agents concurrently.
type Stats struct {
	LLMCalls   atomic.Int64
	LLMRetries atomic.Int64
}

// Agent bundles everything the runner needs: a name for error messages, the
// system prompt, an input formatter, the output JSON Schema as data, and an
// optional semantic validator run after decoding.
type Agent[I, O any] struct {
	Name         string
	SystemPrompt string
	FormatInput  func(I) (string, error)
	Schema       map[string]any
	Validate     func(I, O) error
}

// Runner holds the shared LLM client and per-request call budget.
type Runner struct {
	client      llm.Client
	stats       *Stats
	logger      *slog.Logger
	maxRetries  int
	temperature float64
	maxTokens   int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMaxRetries sets how many times a failed agent call is repeated.
func WithMaxRetries(n int) RunnerOption {
	return func(r *Runner) { r.maxRetries = n }
}

// WithRunnerTemperature sets the default sampling temperature.
func WithRunnerTemperature(t float64) RunnerOption {
	return func(r *Runner) { r.temperature = t }
}

// WithMaxTokens sets the completion token budget.
func WithMaxTokens(n int) RunnerOption {
	return func(r *Runner) { r.maxTokens = n }
}

// NewRunner creates a per-request runner. stats may be shared across agents
// of the same request.
func NewRunner(client llm.Client, stats *Stats, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		client:      client,
		stats:       stats,
		logger:      logger,
		maxRetries:  2,
		temperature: 0,
		maxTokens:   4096,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CallOption overrides settings for a single Run.
type CallOption func(*callConfig)

type callConfig struct {
	temperature float64
}

// WithTemperature raises or lowers sampling for one call without mutating the
// shared runner configuration. HyDE runs at 0.7 this way.
func WithTemperature(t float64) CallOption {
	return func(c *callConfig) { c.temperature = t }
}

// Run formats the input, calls the LLM with the agent's schema, decodes and
// validates the result. Call or decode failures are retried with the same
// messages up to the runner's budget; alignment failures are surfaced
// immediately because a retry with identical input cannot fix them.
func Run[I, O any](ctx context.Context, r *Runner, agent Agent[I, O], input I, opts ...CallOption) (O, error) {
	var zero O

	cfg := callConfig{temperature: r.temperature}
	for _, opt := range opts {
		opt(&cfg)
	}

	userMsg, err := agent.FormatInput(input)
	if err != nil {
		return zero, fmt.Errorf("agents: %s: format input: %w", agent.Name, err)
	}
	req := llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: agent.SystemPrompt},
			{Role: "user", Content: userMsg},
		},
		SchemaName:  agent.Name,
		Schema:      agent.Schema,
		Temperature: cfg.temperature,
		MaxTokens:   r.maxTokens,
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.stats.LLMRetries.Add(1)
			r.logger.Debug("agents: retrying", "agent", agent.Name, "attempt", attempt, "error", lastErr)
		}
		r.stats.LLMCalls.Add(1)

		raw, err := r.client.CompleteJSON(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %w", engine.ErrDependencyUnavailable, err)
			continue
		}

		out, err := decodeStrict[O](raw)
		if err != nil {
			lastErr = fmt.Errorf("%w: %w", engine.ErrAgentSchema, err)
			continue
		}

		if agent.Validate != nil {
			if err := agent.Validate(input, out); err != nil {
				if errors.Is(err, engine.ErrAgentAlignment) {
					return zero, fmt.Errorf("agents: %s: %w", agent.Name, err)
				}
				lastErr = fmt.Errorf("%w: %w", engine.ErrAgentSchema, err)
				continue
			}
		}
		return out, nil
	}
	return zero, fmt.Errorf("agents: %s: %w", agent.Name, lastErr)
}

// decodeStrict rejects unknown fields so schema drift surfaces as an error
// instead of silently dropped data.
func decodeStrict[O any](raw json.RawMessage) (O, error) {
	var out O
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
