package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/memento/internal/engine"
	"github.com/ashita-ai/memento/internal/llm"
)

func TestNormalizeEntityName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"machine learning", "Machine Learning"},
		{"TypeScript", "TypeScript"},
		{"GPT-4", "GPT-4"},
		{"AWS", "AWS"},
		{"aws lambda", "Aws Lambda"},
		{"state-of-the-art", "State-Of-The-Art"},
		{"iPhone", "iPhone"},
		{"new  york", "New  York"},
		{"2024", "2024"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeEntityName(tt.in), "input %q", tt.in)
	}
}

// scriptedClient returns canned responses in order, recording requests.
type scriptedClient struct {
	responses []string
	errs      []error
	requests  []llm.Request
}

func (c *scriptedClient) CompleteJSON(_ context.Context, req llm.Request) (json.RawMessage, error) {
	i := len(c.requests)
	c.requests = append(c.requests, req)
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i >= len(c.responses) {
		return nil, fmt.Errorf("no scripted response %d", i)
	}
	return json.RawMessage(c.responses[i]), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type echoOut struct {
	Answer string `json:"answer"`
}

var echoAgent = Agent[string, echoOut]{
	Name:         "echo",
	SystemPrompt: "Echo.",
	FormatInput:  func(s string) (string, error) { return s, nil },
	Schema:       map[string]any{"type": "object"},
}

func TestRunDecodesAndCounts(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"answer":"hi"}`}}
	stats := &Stats{}
	r := NewRunner(client, stats, testLogger())

	out, err := Run(context.Background(), r, echoAgent, "q")
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Answer)
	assert.Equal(t, int64(1), stats.LLMCalls.Load())
	assert.Equal(t, int64(0), stats.LLMRetries.Load())

	require.Len(t, client.requests, 1)
	assert.Equal(t, "echo", client.requests[0].SchemaName)
	assert.Equal(t, "system", client.requests[0].Messages[0].Role)
}

func TestRunRetriesOnBadOutput(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"answer":"x","extra":true}`, // unknown field, rejected
		`{"answer":"ok"}`,
	}}
	stats := &Stats{}
	r := NewRunner(client, stats, testLogger())

	out, err := Run(context.Background(), r, echoAgent, "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Answer)
	assert.Equal(t, int64(2), stats.LLMCalls.Load())
	assert.Equal(t, int64(1), stats.LLMRetries.Load())
}

func TestRunExhaustsRetries(t *testing.T) {
	boom := errors.New("boom")
	client := &scriptedClient{errs: []error{boom, boom}}
	stats := &Stats{}
	r := NewRunner(client, stats, testLogger(), WithMaxRetries(1))

	_, err := Run(context.Background(), r, echoAgent, "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrDependencyUnavailable)
	assert.Contains(t, err.Error(), "echo")
	assert.Equal(t, int64(2), stats.LLMCalls.Load())
}

func TestRunAlignmentErrorIsNotRetried(t *testing.T) {
	aligned := Agent[string, echoOut]{
		Name:         "strict",
		SystemPrompt: "p",
		FormatInput:  func(s string) (string, error) { return s, nil },
		Schema:       map[string]any{"type": "object"},
		Validate: func(_ string, _ echoOut) error {
			return fmt.Errorf("%w: wrong length", engine.ErrAgentAlignment)
		},
	}
	client := &scriptedClient{responses: []string{`{"answer":"x"}`, `{"answer":"x"}`}}
	stats := &Stats{}
	r := NewRunner(client, stats, testLogger())

	_, err := Run(context.Background(), r, aligned, "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrAgentAlignment)
	assert.Equal(t, int64(1), stats.LLMCalls.Load(), "alignment failures must not burn retries")
}

func TestWithTemperatureOverride(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"semantic":[],"stateChange":[]}`}}
	r := NewRunner(client, &Stats{}, testLogger())

	_, err := Run(context.Background(), r, HydeAgent, HydeInput{Memories: []string{"USER likes tea"}}, WithTemperature(HydeTemperature))
	require.NoError(t, err)
	require.Len(t, client.requests, 1)
	assert.InDelta(t, 0.7, client.requests[0].Temperature, 1e-9)
}

func TestEntityExtractValidation(t *testing.T) {
	in := EntityExtractInput{NoteContent: "note"}
	err := EntityExtractAgent.Validate(in, EntityExtractOutput{
		Entities: []ExtractedEntity{{Name: "Rust", Type: "Language"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Language")

	err = EntityExtractAgent.Validate(in, EntityExtractOutput{
		Entities: []ExtractedEntity{{Name: "Rust", Type: "Technology", Description: "A systems language"}},
	})
	assert.NoError(t, err)
}

func TestEntityResolverAlignment(t *testing.T) {
	in := EntityResolverInput{Entities: []EntityToResolve{
		{Name: "TypeScript", Type: "Technology"},
		{Name: "Acme", Type: "Organization"},
	}}

	t.Run("wrong length", func(t *testing.T) {
		err := EntityResolverAgent.Validate(in, EntityResolverOutput{
			Resolutions: []EntityResolution{{Name: "TypeScript", Action: ActionCreate}},
		})
		assert.ErrorIs(t, err, engine.ErrAgentAlignment)
	})

	t.Run("name mismatch", func(t *testing.T) {
		err := EntityResolverAgent.Validate(in, EntityResolverOutput{
			Resolutions: []EntityResolution{
				{Name: "Acme", Action: ActionCreate},
				{Name: "TypeScript", Action: ActionCreate},
			},
		})
		assert.ErrorIs(t, err, engine.ErrAgentAlignment)
	})

	t.Run("case-insensitive names align", func(t *testing.T) {
		err := EntityResolverAgent.Validate(in, EntityResolverOutput{
			Resolutions: []EntityResolution{
				{Name: "typescript", Action: ActionMatch, MatchedEntityID: "e1"},
				{Name: "ACME", Action: ActionCreate},
			},
		})
		assert.NoError(t, err)
	})

	t.Run("match without id", func(t *testing.T) {
		err := EntityResolverAgent.Validate(in, EntityResolverOutput{
			Resolutions: []EntityResolution{
				{Name: "TypeScript", Action: ActionMatch},
				{Name: "Acme", Action: ActionCreate},
			},
		})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, engine.ErrAgentAlignment)
	})
}

func TestMemoryResolverAlignment(t *testing.T) {
	in := MemoryResolverInput{
		Extracted: []ExtractedMemory{{Content: "USER moved to Lisbon"}},
		Existing:  []ExistingMemory{{ID: "m1", Content: "USER lives in Porto"}},
	}

	t.Run("valid invalidate", func(t *testing.T) {
		err := MemoryResolverAgent.Validate(in, MemoryResolverOutput{
			Decisions: []MemoryDecision{{
				Action:  DecisionInvalidate,
				Targets: []InvalidationTarget{{ExistingMemoryID: "m1", Reason: "moved"}},
			}},
		})
		assert.NoError(t, err)
	})

	t.Run("unknown target", func(t *testing.T) {
		err := MemoryResolverAgent.Validate(in, MemoryResolverOutput{
			Decisions: []MemoryDecision{{
				Action:  DecisionInvalidate,
				Targets: []InvalidationTarget{{ExistingMemoryID: "ghost", Reason: "x"}},
			}},
		})
		assert.ErrorIs(t, err, engine.ErrAgentAlignment)
	})

	t.Run("wrong length", func(t *testing.T) {
		err := MemoryResolverAgent.Validate(in, MemoryResolverOutput{})
		assert.ErrorIs(t, err, engine.ErrAgentAlignment)
	})
}

func TestMemoryExtractValidation(t *testing.T) {
	in := MemoryExtractInput{
		NoteContent:   "n",
		NoteTimestamp: time.Now(),
		Entities:      []ResolvedEntitySummary{{Name: "TypeScript", Type: "Technology", Action: ActionCreate}},
	}
	err := MemoryExtractAgent.Validate(in, MemoryExtractOutput{
		Memories: []ExtractedMemory{{Content: "USER learns typescript", AboutEntities: []string{"USER", "typescript"}}},
	})
	assert.NoError(t, err, "entity names match case-insensitively")

	err = MemoryExtractAgent.Validate(in, MemoryExtractOutput{
		Memories: []ExtractedMemory{{Content: "c", AboutEntities: []string{"Golang"}}},
	})
	assert.Error(t, err)
}
