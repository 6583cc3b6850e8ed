package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"bare array", `[1,2]`, `[1,2]`},
		{"whitespace", "  {\"a\":1}\n", `{"a":1}`},
		{"fenced with tag", "Here you go:\n```json\n{\"a\": 1}\n```\nDone.", `{"a": 1}`},
		{"fenced without tag", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"embedded object", `The result is {"a": {"b": 2}} as requested.`, `{"a": {"b": 2}}`},
		{"braces inside strings", `prefix {"text": "a } b"} suffix`, `{"text": "a } b"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	t.Run("no json", func(t *testing.T) {
		_, err := ExtractJSON("I cannot answer that.")
		assert.Error(t, err)
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testSchema = map[string]any{
	"type":       "object",
	"properties": map[string]any{"answer": map[string]any{"type": "string"}},
	"required":   []string{"answer"},
}

func TestOpenAIClientStructured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json_schema", req.ResponseFormat["type"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"answer": "yes"}`}},
			},
		})
	}))
	defer server.Close()

	c := NewOpenAIClient("key", "gpt-4o-mini", testLogger()).WithBaseURL(server.URL)
	raw, err := c.CompleteJSON(context.Background(), Request{
		Messages:   []Message{{Role: "user", Content: "q"}},
		SchemaName: "test_result",
		Schema:     testSchema,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer": "yes"}`, string(raw))
}

func TestOpenAIClientFallsBackToToolCall(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Reject json_schema mode like an older model would.
		if req.ResponseFormat != nil && req.ResponseFormat["type"] == "json_schema" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "response_format not supported", "type": "invalid_request_error"},
			})
			return
		}
		require.NotEmpty(t, req.Tools)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{
					"tool_calls": []map[string]any{
						{"function": map[string]any{"arguments": `{"answer": "via tool"}`}},
					},
				}},
			},
		})
	}))
	defer server.Close()

	c := NewOpenAIClient("key", "gpt-4o-mini", testLogger()).WithBaseURL(server.URL)
	raw, err := c.CompleteJSON(context.Background(), Request{
		Messages:   []Message{{Role: "user", Content: "q"}},
		SchemaName: "test_result",
		Schema:     testSchema,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer": "via tool"}`, string(raw))
	// One rejected json_schema call, one successful tool call. Transport
	// errors skip the feedback retry.
	assert.Equal(t, 2, calls)
}

func TestOpenAIClientFeedbackRetry(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		content := "not json at all"
		if calls > 1 {
			// The retry must carry the feedback turn.
			last := req.Messages[len(req.Messages)-1]
			assert.Contains(t, last.Content, "not valid JSON")
			content = `{"answer": "fixed"}`
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		})
	}))
	defer server.Close()

	c := NewOpenAIClient("key", "gpt-4o-mini", testLogger()).WithBaseURL(server.URL)
	raw, err := c.CompleteJSON(context.Background(), Request{
		Messages:   []Message{{Role: "user", Content: "q"}},
		SchemaName: "test_result",
		Schema:     testSchema,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer": "fixed"}`, string(raw))
	assert.Equal(t, 2, calls)
}

func TestOllamaClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.True(t, strings.Contains(string(body), `"format":"json"`))
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: struct {
				Content string `json:"content"`
			}{Content: `{"answer": "local"}`},
		})
	}))
	defer server.Close()

	c := NewOllamaClient(server.URL, "qwen2.5:3b", testLogger())
	raw, err := c.CompleteJSON(context.Background(), Request{
		Messages:   []Message{{Role: "user", Content: "q"}},
		SchemaName: "test_result",
		Schema:     testSchema,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer": "local"}`, string(raw))
}
