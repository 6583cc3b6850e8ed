package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/memento/internal/ratelimit"
	"github.com/ashita-ai/memento/internal/service"
)

// DefaultMaxBodyBytes caps request bodies. Notes are capped separately at
// model.MaxNoteContentLen; this bound protects the JSON decoder.
const DefaultMaxBodyBytes = 1 << 20 // 1 MB

// Config holds the HTTP server dependencies and tunables.
type Config struct {
	Service *service.Service
	Logger  *slog.Logger
	Version string

	// Limiter applies per-client rate limits to the public routes. Nil
	// disables limiting.
	Limiter ratelimit.Limiter

	// MCPHandler, when set, is mounted at /mcp.
	MCPHandler http.Handler

	// OpenAPISpec, when set, is served at GET /openapi.yaml.
	OpenAPISpec []byte

	// GraphPing and IndexHealthy feed the health endpoint. Either may be
	// nil when the dependency is absent.
	GraphPing    func(ctx context.Context) error
	IndexHealthy func(ctx context.Context) error

	// UpstreamURL is the OpenAI-compatible base URL the chat proxy forwards
	// to. UpstreamAPIKey is used when the caller sends no Authorization.
	UpstreamURL    string
	UpstreamAPIKey string

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxBodyBytes caps request bodies; zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Server is the Memento HTTP API server.
type Server struct {
	svc    *service.Service
	logger *slog.Logger

	version      string
	startedAt    time.Time
	graphPing    func(ctx context.Context) error
	indexHealthy func(ctx context.Context) error

	upstreamURL string
	upstreamKey string
	httpClient  *http.Client

	httpServer *http.Server
}

// New creates a Server with its routes and middleware wired.
func New(cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		svc:          cfg.Service,
		logger:       cfg.Logger,
		version:      cfg.Version,
		startedAt:    time.Now(),
		graphPing:    cfg.GraphPing,
		indexHealthy: cfg.IndexHealthy,
		upstreamURL:  cfg.UpstreamURL,
		upstreamKey:  cfg.UpstreamAPIKey,
		// No client timeout: streamed completions outlive any fixed bound.
		// The per-request context carries the deadline instead.
		httpClient: &http.Client{},
	}

	mux := http.NewServeMux()

	reqID := func(r *http.Request) string { return RequestIDFromContext(r.Context()) }
	limited := func(h http.HandlerFunc) http.Handler {
		return ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqID, cfg.Logger)(h)
	}

	mux.Handle("POST /v1/chat/completions", limited(s.handleChatCompletions))
	mux.Handle("POST /v1/notes", limited(s.handleAddNote))
	mux.Handle("POST /v1/retrieve", limited(s.handleRetrieve))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if cfg.MCPHandler != nil {
		mux.Handle("/mcp", cfg.MCPHandler)
	}
	if len(cfg.OpenAPISpec) > 0 {
		mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(cfg.OpenAPISpec)
		})
	}

	handler := bodyLimitMiddleware(cfg.MaxBodyBytes, mux)
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the fully wired HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
