package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/memento/internal/model"
)

type capturedUpstream struct {
	body   map[string]any
	auth   string
	called bool
}

func newUpstream(t *testing.T, captured *capturedUpstream) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		captured.called = true
		captured.auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","choices":[]}`))
	}))
}

func chatRequest(messages ...map[string]any) map[string]any {
	anyMessages := make([]any, len(messages))
	for i, m := range messages {
		anyMessages[i] = m
	}
	return map[string]any{"model": "gpt-4o", "messages": anyMessages}
}

func lastContent(t *testing.T, body map[string]any) string {
	t.Helper()
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, messages)
	msg, ok := messages[len(messages)-1].(map[string]any)
	require.True(t, ok)
	content, ok := msg["content"].(string)
	require.True(t, ok)
	return content
}

func TestProxyInjectsMemoryBlock(t *testing.T) {
	var captured capturedUpstream
	upstream := newUpstream(t, &captured)
	defer upstream.Close()

	r := &stubRetriever{output: model.RetrievalOutput{
		Query: "what bread do I like",
		Memories: []model.RetrievedMemory{
			{Rank: 1, ID: "m1", Content: "USER likes rye bread"},
		},
	}}
	srv := newTestServer(t, &stubConsolidator{}, r, func(cfg *Config) {
		cfg.UpstreamURL = upstream.URL
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat/completions",
		chatRequest(map[string]any{"role": "user", "content": "what bread do I like"}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, captured.called)

	content := lastContent(t, captured.body)
	assert.True(t, strings.HasPrefix(content, "<memento>"), "memory block must come first")
	assert.Contains(t, content, "USER likes rye bread")
	assert.True(t, strings.HasSuffix(content, "what bread do I like"), "original prompt must be preserved")
	assert.Equal(t, []string{"what bread do I like"}, r.queries)
}

func TestProxyInjectsIntoLastUserMessage(t *testing.T) {
	var captured capturedUpstream
	upstream := newUpstream(t, &captured)
	defer upstream.Close()

	r := &stubRetriever{output: model.RetrievalOutput{
		Memories: []model.RetrievedMemory{{Rank: 1, ID: "m1", Content: "USER works at Acme"}},
	}}
	srv := newTestServer(t, &stubConsolidator{}, r, func(cfg *Config) {
		cfg.UpstreamURL = upstream.URL
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat/completions", chatRequest(
		map[string]any{"role": "system", "content": "be terse"},
		map[string]any{"role": "user", "content": "first question"},
		map[string]any{"role": "assistant", "content": "first answer"},
		map[string]any{"role": "user", "content": "second question"},
	))
	require.Equal(t, http.StatusOK, rec.Code)

	messages := captured.body["messages"].([]any)
	require.Len(t, messages, 4)
	first := messages[1].(map[string]any)["content"].(string)
	assert.Equal(t, "first question", first, "earlier user messages stay untouched")
	assert.Contains(t, lastContent(t, captured.body), "USER works at Acme")
	assert.Equal(t, []string{"second question"}, r.queries)
}

func TestProxyForwardsOriginalOnRetrievalFailure(t *testing.T) {
	var captured capturedUpstream
	upstream := newUpstream(t, &captured)
	defer upstream.Close()

	r := &stubRetriever{err: errors.New("graph unavailable")}
	srv := newTestServer(t, &stubConsolidator{}, r, func(cfg *Config) {
		cfg.UpstreamURL = upstream.URL
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat/completions",
		chatRequest(map[string]any{"role": "user", "content": "hello"}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, captured.called, "retrieval failure must not block the completion")
	assert.Equal(t, "hello", lastContent(t, captured.body))
}

func TestProxyForwardsUnchangedWithoutUserMessage(t *testing.T) {
	var captured capturedUpstream
	upstream := newUpstream(t, &captured)
	defer upstream.Close()

	r := &stubRetriever{}
	srv := newTestServer(t, &stubConsolidator{}, r, func(cfg *Config) {
		cfg.UpstreamURL = upstream.URL
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat/completions",
		chatRequest(map[string]any{"role": "system", "content": "be terse"}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, captured.called)
	assert.Empty(t, r.queries, "no user message means no retrieval")
}

func TestProxySkipsInjectionOnEmptyRetrieval(t *testing.T) {
	var captured capturedUpstream
	upstream := newUpstream(t, &captured)
	defer upstream.Close()

	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, func(cfg *Config) {
		cfg.UpstreamURL = upstream.URL
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat/completions",
		chatRequest(map[string]any{"role": "user", "content": "hello"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", lastContent(t, captured.body), "empty retrieval injects nothing")
}

func TestProxyAuthorizationPassthrough(t *testing.T) {
	var captured capturedUpstream
	upstream := newUpstream(t, &captured)
	defer upstream.Close()

	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, func(cfg *Config) {
		cfg.UpstreamURL = upstream.URL
		cfg.UpstreamAPIKey = "sk-configured"
	})

	body, err := json.Marshal(chatRequest(map[string]any{"role": "user", "content": "hi"}))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(body)))
	req.Header.Set("Authorization", "Bearer sk-caller")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer sk-caller", captured.auth, "caller credentials win over the configured key")
}

func TestProxyFallsBackToConfiguredKey(t *testing.T) {
	var captured capturedUpstream
	upstream := newUpstream(t, &captured)
	defer upstream.Close()

	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, func(cfg *Config) {
		cfg.UpstreamURL = upstream.URL
		cfg.UpstreamAPIKey = "sk-configured"
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat/completions",
		chatRequest(map[string]any{"role": "user", "content": "hi"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer sk-configured", captured.auth)
}

func TestProxyUpstreamUnreachable(t *testing.T) {
	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, func(cfg *Config) {
		cfg.UpstreamURL = "http://127.0.0.1:1" // nothing listens here
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat/completions",
		chatRequest(map[string]any{"role": "user", "content": "hi"}))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var envelope model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, model.ErrCodeUnavailable, envelope.Error.Code)
}

func TestProxyPassesUpstreamErrorThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer upstream.Close()

	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, func(cfg *Config) {
		cfg.UpstreamURL = upstream.URL
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat/completions",
		chatRequest(map[string]any{"role": "user", "content": "hi"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "bad key")
}

func TestProxyRejectsInvalidJSON(t *testing.T) {
	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
