package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/memento/internal/consolidation"
	"github.com/ashita-ai/memento/internal/model"
	"github.com/ashita-ai/memento/internal/service"
)

type stubConsolidator struct {
	result consolidation.Result
	err    error
	inputs []consolidation.Input
}

func (s *stubConsolidator) Consolidate(_ context.Context, in consolidation.Input) (consolidation.Result, error) {
	s.inputs = append(s.inputs, in)
	return s.result, s.err
}

type stubRetriever struct {
	output  model.RetrievalOutput
	err     error
	queries []string
}

func (s *stubRetriever) Retrieve(_ context.Context, query string, _ pgvector.Vector) (model.RetrievalOutput, error) {
	s.queries = append(s.queries, query)
	return s.output, s.err
}

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(context.Context, string) (pgvector.Vector, error) {
	return pgvector.NewVector([]float32{1, 0}), nil
}

func (fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i := range vecs {
		vecs[i] = pgvector.NewVector([]float32{1, 0})
	}
	return vecs, nil
}

func (fixedEmbedder) Dimensions() int { return 2 }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, c *stubConsolidator, r *stubRetriever, mutate func(*Config)) *Server {
	t.Helper()
	svc := service.New(c, r, fixedEmbedder{}, nil, testLogger())
	cfg := Config{
		Service: svc,
		Logger:  testLogger(),
		Version: "test",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAddNoteSyncReturnsResult(t *testing.T) {
	c := &stubConsolidator{result: consolidation.Result{
		NoteID: "n1",
		Memories: []consolidation.ResolvedMemory{
			{ID: "m1", Content: "USER likes rye bread", Action: "ADD", About: []string{"USER"}},
		},
	}}
	srv := newTestServer(t, c, &stubRetriever{}, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/notes", model.AddNoteRequest{Content: "I like rye bread"})
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data model.NoteResult   `json:"data"`
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, "n1", envelope.Data.NoteID)
	require.Len(t, envelope.Data.Memories, 1)
	assert.Equal(t, "USER likes rye bread", envelope.Data.Memories[0].Content)
	assert.NotEmpty(t, envelope.Meta.RequestID)
}

func TestAddNoteRejectsEmptyContent(t *testing.T) {
	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/notes", model.AddNoteRequest{Content: "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, model.ErrCodeInvalidInput, envelope.Error.Code)
}

func TestAddNoteRejectsUnknownFields(t *testing.T) {
	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/notes", map[string]any{"content": "x", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddNoteConsolidationFailure(t *testing.T) {
	c := &stubConsolidator{err: errors.New("llm exploded")}
	srv := newTestServer(t, c, &stubRetriever{}, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/notes", model.AddNoteRequest{Content: "x"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var envelope model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, model.ErrCodeInternalError, envelope.Error.Code)
	assert.NotContains(t, envelope.Error.Message, "llm exploded", "internal detail must not leak")
}

func TestRetrieveReturnsMemories(t *testing.T) {
	r := &stubRetriever{output: model.RetrievalOutput{
		Query: "bread",
		Memories: []model.RetrievedMemory{
			{Rank: 1, ID: "m1", Content: "USER likes rye bread"},
		},
	}}
	srv := newTestServer(t, &stubConsolidator{}, r, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/retrieve", model.RetrieveRequest{Query: "bread"})
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data model.RetrievalOutput `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.Len(t, envelope.Data.Memories, 1)
	assert.Equal(t, "m1", envelope.Data.Memories[0].ID)
	assert.Equal(t, []string{"bread"}, r.queries)
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/retrieve", model.RetrieveRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthOK(t *testing.T) {
	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, func(cfg *Config) {
		cfg.GraphPing = func(context.Context) error { return nil }
		cfg.IndexHealthy = func(context.Context) error { return nil }
	})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data model.HealthResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, "ok", envelope.Data.Status)
	assert.Equal(t, "ok", envelope.Data.Graph)
	assert.Equal(t, "ok", envelope.Data.Qdrant)
	assert.Equal(t, "test", envelope.Data.Version)
}

func TestHealthDegradedOnGraphFailure(t *testing.T) {
	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, func(cfg *Config) {
		cfg.GraphPing = func(context.Context) error { return errors.New("connection refused") }
	})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var envelope struct {
		Data model.HealthResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, "degraded", envelope.Data.Status)
	assert.Equal(t, "unreachable", envelope.Data.Graph)
}

func TestHealthIndexFailureDoesNotDegrade(t *testing.T) {
	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, func(cfg *Config) {
		cfg.GraphPing = func(context.Context) error { return nil }
		cfg.IndexHealthy = func(context.Context) error { return errors.New("qdrant down") }
	})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data model.HealthResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, "ok", envelope.Data.Status)
	assert.Equal(t, "unreachable", envelope.Data.Qdrant)
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }
func (denyLimiter) Close() error                                { return nil }

func TestRateLimitedRoutesReturn429(t *testing.T) {
	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, func(cfg *Config) {
		cfg.Limiter = denyLimiter{}
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/notes", model.AddNoteRequest{Content: "x"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var envelope model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, model.ErrCodeRateLimited, envelope.Error.Code)
}

func TestHealthIsNotRateLimited(t *testing.T) {
	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, func(cfg *Config) {
		cfg.Limiter = denyLimiter{}
	})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBodyLimitRejectsOversizedPayload(t *testing.T) {
	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, func(cfg *Config) {
		cfg.MaxBodyBytes = 64
	})

	big := bytes.Repeat([]byte("a"), 256)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/notes", model.AddNoteRequest{Content: string(big)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDEchoedBack(t *testing.T) {
	srv := newTestServer(t, &stubConsolidator{}, &stubRetriever{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-ID"))
}
