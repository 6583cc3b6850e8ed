package memento

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port              int
	databaseURL       string
	sqlitePath        string
	logger            *slog.Logger
	version           string
	embeddingProvider EmbeddingProvider
	upstreamURL       string
	upstreamAPIKey    string
	asyncNotes        *bool
}

// WithPort overrides the TCP port from config (MEMENTO_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var) and selects the postgres backend.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath selects the sqlite backend with the database at path.
// Pass ":memory:" for an ephemeral store.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEmbeddingProvider replaces the configured embedding provider
// (OpenAI/Ollama/noop). The provided implementation must satisfy the
// EmbeddingProvider interface.
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithUpstream overrides the OpenAI-compatible endpoint the chat proxy
// forwards to (MEMENTO_UPSTREAM_URL / MEMENTO_UPSTREAM_API_KEY env vars).
// The key is the fallback credential; callers sending Authorization win.
func WithUpstream(url, apiKey string) Option {
	return func(o *resolvedOptions) {
		o.upstreamURL = url
		o.upstreamAPIKey = apiKey
	}
}

// WithAsyncNotes overrides the note intake mode (MEMENTO_ASYNC_NOTES env var).
// When enabled, note submissions enqueue and return immediately.
func WithAsyncNotes(async bool) Option {
	return func(o *resolvedOptions) { o.asyncNotes = &async }
}
