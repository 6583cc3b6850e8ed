// Package memento is the public API for embedding the Memento memory server.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := memento.New(
//	    memento.WithVersion(version),
//	    memento.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: memento (root) imports
// internal/*, but internal/* never imports memento (root). Public types
// (Memory, Entity, RetrievalResult) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package memento

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/memento/api"
	"github.com/ashita-ai/memento/internal/config"
	"github.com/ashita-ai/memento/internal/consolidation"
	"github.com/ashita-ai/memento/internal/embedding"
	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/graph/postgres"
	"github.com/ashita-ai/memento/internal/graph/sqlite"
	"github.com/ashita-ai/memento/internal/llm"
	"github.com/ashita-ai/memento/internal/mcp"
	"github.com/ashita-ai/memento/internal/model"
	"github.com/ashita-ai/memento/internal/ratelimit"
	"github.com/ashita-ai/memento/internal/retrieval"
	"github.com/ashita-ai/memento/internal/search"
	"github.com/ashita-ai/memento/internal/server"
	"github.com/ashita-ai/memento/internal/service"
	"github.com/ashita-ai/memento/internal/service/notes"
	"github.com/ashita-ai/memento/internal/telemetry"
	"github.com/ashita-ai/memento/migrations"
)

// App is the Memento server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	store        graph.Store
	closeStore   func(context.Context) error
	svc          *service.Service
	srv          *server.Server
	queue        *notes.Queue // nil when note intake is synchronous
	qdrantIndex  *search.QdrantIndex
	outbox       *search.OutboxWorker
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Memento server. It connects to the graph backend, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.GraphBackend = "postgres"
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.GraphBackend = "sqlite"
		cfg.SQLitePath = o.sqlitePath
	}
	if o.upstreamURL != "" {
		cfg.UpstreamURL = o.upstreamURL
		cfg.UpstreamAPIKey = o.upstreamAPIKey
	}
	if o.asyncNotes != nil {
		cfg.AsyncNotes = *o.asyncNotes
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("memento starting", "version", version, "port", cfg.Port, "backend", cfg.GraphBackend)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	fail := func(err error) (*App, error) {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	// Connect the graph backend.
	var (
		store      graph.Store
		closeStore func(context.Context) error
		graphPing  func(context.Context) error
		pgStore    *postgres.Store
	)
	switch cfg.GraphBackend {
	case "postgres":
		pgStore, err = postgres.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			return fail(fmt.Errorf("postgres: %w", err))
		}
		if err := pgStore.RunMigrations(context.Background(), migrations.FS); err != nil {
			_ = pgStore.Close(context.Background())
			return fail(fmt.Errorf("migrations: %w", err))
		}
		store, closeStore, graphPing = pgStore, pgStore.Close, pgStore.Ping
	case "sqlite":
		sqStore, err := sqlite.Open(context.Background(), cfg.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("sqlite: %w", err))
		}
		store, closeStore, graphPing = sqStore, sqStore.Close, sqStore.Ping
	}

	// Embedding provider — external override takes priority over config.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = &providerAdapter{p: o.embeddingProvider}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// LLM client for the consolidation agents.
	llmClient, err := newLLMClient(cfg, logger)
	if err != nil {
		_ = closeStore(context.Background())
		return fail(err)
	}

	// Qdrant accelerator and outbox worker (optional — disabled when the URL
	// is empty). Postgres stays the source of truth; the index only serves
	// vector search, fed via the transactional outbox.
	var (
		qdrantIndex  *search.QdrantIndex
		outboxWorker *search.OutboxWorker
		indexHealthy func(context.Context) error
	)
	if cfg.QdrantURL != "" {
		qdrantIndex, err = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			_ = closeStore(context.Background())
			return fail(fmt.Errorf("qdrant: %w", err))
		}
		if err := qdrantIndex.EnsureCollection(context.Background()); err != nil {
			_ = qdrantIndex.Close()
			_ = closeStore(context.Background())
			return fail(fmt.Errorf("qdrant ensure collection: %w", err))
		}
		pgStore.EnableSearchOutbox()
		outboxWorker = search.NewOutboxWorker(pgStore.Pool(), qdrantIndex, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		store = search.NewAccelerated(store, qdrantIndex, logger)
		indexHealthy = qdrantIndex.Healthy
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no MEMENTO_QDRANT_URL)")
	}

	// Pipelines.
	retriever := retrieval.New(store, logger, retrieval.Config{})
	consolidator := consolidation.New(store, embedder, llmClient, retriever, logger, consolidation.Config{})

	// Note intake queue (async mode only).
	var queue *notes.Queue
	if cfg.AsyncNotes {
		queue = notes.NewQueue(consolidator, cfg.NoteQueueSize, logger)
		logger.Info("note intake: async", "queue_size", cfg.NoteQueueSize)
	} else {
		logger.Info("note intake: synchronous")
	}

	svc := service.New(consolidator, retriever, embedder, queue, logger)

	// MCP server, mounted at /mcp over StreamableHTTP.
	mcpSrv := mcp.New(svc, version, logger)

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = ratelimit.PerMinute(cfg.RateLimitPerMinute)
		logger.Info("rate limiting: memory (in-process token bucket)", "per_minute", cfg.RateLimitPerMinute)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.Config{
		Service:        svc,
		Logger:         logger,
		Version:        version,
		Limiter:        limiter,
		MCPHandler:     mcpserver.NewStreamableHTTPServer(mcpSrv.MCPServer()),
		OpenAPISpec:    api.OpenAPISpec,
		GraphPing:      graphPing,
		IndexHealthy:   indexHealthy,
		UpstreamURL:    cfg.UpstreamURL,
		UpstreamAPIKey: cfg.UpstreamAPIKey,
		Port:           cfg.Port,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxBodyBytes:   cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		closeStore:   closeStore,
		svc:          svc,
		srv:          srv,
		queue:        queue,
		qdrantIndex:  qdrantIndex,
		outbox:       outboxWorker,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts all background workers and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Start(ctx)
	}
	if a.outbox != nil {
		a.outbox.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a three-phase graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight,
// (2) flush the note queue (its consolidations may still enqueue outbox rows),
// (3) drain remaining outbox entries to Qdrant.
// It then closes the graph store, the index client, and the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("memento shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	if a.queue != nil {
		queueCtx, queueCancel := context.WithTimeout(ctx, 30*time.Second)
		a.queue.Drain(queueCtx)
		queueCancel()
	}

	if a.outbox != nil {
		outboxCtx, outboxCancel := context.WithTimeout(ctx, 10*time.Second)
		a.outbox.Drain(outboxCtx)
		outboxCancel()
	}

	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	_ = a.limiter.Close()
	if err := a.closeStore(context.Background()); err != nil {
		a.logger.Error("store close error", "error", err)
	}
	if err := a.otelShutdown(context.Background()); err != nil {
		a.logger.Error("otel shutdown error", "error", err)
	}

	a.logger.Info("memento stopped")
	return nil
}

// AddNote submits one note for consolidation, bypassing HTTP. A zero
// timestamp defaults to the current time.
func (a *App) AddNote(ctx context.Context, content string, timestamp time.Time) (NoteResult, error) {
	out, err := a.svc.AddNote(ctx, content, timestamp)
	if err != nil {
		return NoteResult{}, err
	}
	return toPublicNoteResult(out), nil
}

// Retrieve runs the retrieval pipeline for a query, bypassing HTTP. topK,
// when positive, caps the returned memories.
func (a *App) Retrieve(ctx context.Context, query string, topK int) (RetrievalResult, error) {
	out, err := a.svc.Retrieve(ctx, query, topK)
	if err != nil {
		return RetrievalResult{}, err
	}
	return toPublicRetrievalResult(out), nil
}

func toPublicNoteResult(out service.NoteOutcome) NoteResult {
	res := NoteResult{
		Queued:     out.Queued,
		NoteID:     out.Result.NoteID,
		Skipped:    out.Result.Skipped,
		SkipReason: out.Result.SkipReason,
	}
	for _, e := range out.Result.Entities {
		res.Entities = append(res.Entities, Entity{ID: e.ID, Name: e.Name, Type: e.Type, Action: e.Action})
	}
	for _, m := range out.Result.Memories {
		res.Memories = append(res.Memories, Memory{
			ID:             m.ID,
			Content:        m.Content,
			About:          m.About,
			ValidAt:        m.ValidAt,
			InvalidatedIDs: m.InvalidatedIDs,
		})
	}
	return res
}

func toPublicRetrievalResult(out model.RetrievalOutput) RetrievalResult {
	res := RetrievalResult{Query: out.Query}
	for _, m := range out.Memories {
		res.Memories = append(res.Memories, RetrievedMemory{
			Rank:    m.Rank,
			ID:      m.ID,
			Content: m.Content,
			Score:   m.Score,
			About:   m.About,
			ValidAt: m.ValidAt,
		})
	}
	return res
}

// newEmbeddingProvider creates an embedding provider from configuration.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaEmbeddingModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaEmbeddingModel, dims)
	case "noop":
		logger.Warn("embedding provider: noop (vector search degenerate, development only)")
		return embedding.NewNoopProvider(dims)
	default: // "openai", enforced by config.Validate
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when MEMENTO_EMBEDDING_PROVIDER=openai, using noop")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
	}
}

// newLLMClient creates the structured-completion client the consolidation
// agents use. Unlike embeddings there is no noop tier: consolidation cannot
// run without a model.
func newLLMClient(cfg config.Config, logger *slog.Logger) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "ollama":
		logger.Info("llm provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return llm.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel, logger), nil
	default: // "openai", enforced by config.Validate
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY required when MEMENTO_LLM_PROVIDER=openai")
		}
		logger.Info("llm provider: openai", "model", cfg.OpenAIModel)
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger), nil
	}
}

// providerAdapter bridges the public []float32 EmbeddingProvider to the
// internal pgvector-based interface.
type providerAdapter struct {
	p EmbeddingProvider
}

func (a *providerAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vec, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vec), nil
}

func (a *providerAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	raw, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	vecs := make([]pgvector.Vector, len(raw))
	for i, v := range raw {
		vecs[i] = pgvector.NewVector(v)
	}
	return vecs, nil
}

func (a *providerAdapter) Dimensions() int {
	return a.p.Dimensions()
}
