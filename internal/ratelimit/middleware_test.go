package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/memento/internal/model"
)

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func (s *stubLimiter) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllows(t *testing.T) {
	lim := &stubLimiter{allow: true}
	h := Middleware(lim, IPKeyFunc, nil, discardLogger())(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/notes", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, lim.keys, 1)
	assert.Equal(t, "10.1.2.3", lim.keys[0])
}

func TestMiddlewareDeniesWithEnvelope(t *testing.T) {
	lim := &stubLimiter{allow: false}
	reqID := func(*http.Request) string { return "req-42" }
	h := Middleware(lim, IPKeyFunc, reqID, discardLogger())(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/notes", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var envelope model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, model.ErrCodeRateLimited, envelope.Error.Code)
	assert.Equal(t, "req-42", envelope.Meta.RequestID)
}

func TestMiddlewareFailsOpenOnError(t *testing.T) {
	lim := &stubLimiter{allow: false, err: errors.New("backend down")}
	h := Middleware(lim, IPKeyFunc, nil, discardLogger())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/retrieve", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	lim := &stubLimiter{allow: false}
	skipAll := func(*http.Request) string { return "" }
	h := Middleware(lim, skipAll, nil, discardLogger())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, lim.keys)
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	h := Middleware(nil, IPKeyFunc, nil, discardLogger())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/retrieve", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:31337"
	assert.Equal(t, "192.0.2.7", IPKeyFunc(r))

	r.RemoteAddr = "no-port"
	assert.Equal(t, "no-port", IPKeyFunc(r))
}
