// Package consolidation turns raw notes into graph writes. Two branches run
// concurrently — context retrieval (A) and extract-and-resolve (B) — then a
// join step decides, per extracted memory, whether to add, skip, or
// invalidate, and a single transaction applies the whole outcome.
package consolidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/memento/internal/agents"
	"github.com/ashita-ai/memento/internal/embedding"
	"github.com/ashita-ai/memento/internal/engine"
	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/llm"
	"github.com/ashita-ai/memento/internal/retrieval"
)

// Skip reasons reported when a note produces no writes.
const (
	SkipReasonNoMemories = "No memories could be extracted from this note"
	SkipReasonDuplicates = "All memories were duplicates of existing knowledge"
)

// Config holds the consolidation tunables.
type Config struct {
	// HydeMaxDocs caps how many hypothetical documents are embedded.
	HydeMaxDocs int
	// HydeResultsPerDoc bounds each per-document vector search.
	HydeResultsPerDoc int
	// ContextTopK is the size of the existing-memory context after merging.
	ContextTopK int
	// EntityMatches bounds the per-entity hybrid search.
	EntityMatches int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HydeMaxDocs:       6,
		HydeResultsPerDoc: 10,
		ContextTopK:       15,
		EntityMatches:     5,
	}
}

// Input is one note to consolidate.
type Input struct {
	Content   string
	Timestamp time.Time
}

// ResolvedEntity is the final outcome for one extracted entity.
type ResolvedEntity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Action      string `json:"action"`
	IsWellKnown bool   `json:"isWellKnown"`
}

// ResolvedMemory is the final outcome for one extracted memory.
type ResolvedMemory struct {
	ID             string     `json:"id,omitempty"`
	Content        string     `json:"content"`
	Action         string     `json:"action"`
	About          []string   `json:"about"`
	ValidAt        *time.Time `json:"validAt,omitempty"`
	InvalidatedIDs []string   `json:"invalidatedIds,omitempty"`
}

// Result is what one consolidation produced.
type Result struct {
	Skipped                bool             `json:"skipped"`
	SkipReason             string           `json:"skipReason,omitempty"`
	NoteID                 string           `json:"noteId,omitempty"`
	Entities               []ResolvedEntity `json:"entities"`
	Memories               []ResolvedMemory `json:"memories"`
	UserDescriptionUpdated bool             `json:"userDescriptionUpdated"`
	LLMCalls               int64            `json:"llmCalls"`
	LLMRetries             int64            `json:"llmRetries"`
}

// Pipeline wires the consolidation collaborators.
type Pipeline struct {
	store     graph.Store
	embedder  embedding.Provider
	llmClient llm.Client
	retriever *retrieval.Pipeline
	logger    *slog.Logger
	cfg       Config
}

// New creates a Pipeline, filling zero Config fields with defaults.
func New(store graph.Store, embedder embedding.Provider, llmClient llm.Client, retriever *retrieval.Pipeline, logger *slog.Logger, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.HydeMaxDocs <= 0 {
		cfg.HydeMaxDocs = def.HydeMaxDocs
	}
	if cfg.HydeResultsPerDoc <= 0 {
		cfg.HydeResultsPerDoc = def.HydeResultsPerDoc
	}
	if cfg.ContextTopK <= 0 {
		cfg.ContextTopK = def.ContextTopK
	}
	if cfg.EntityMatches <= 0 {
		cfg.EntityMatches = def.EntityMatches
	}
	return &Pipeline{
		store:     store,
		embedder:  embedder,
		llmClient: llmClient,
		retriever: retriever,
		logger:    logger,
		cfg:       cfg,
	}
}

// Consolidate runs the full pipeline for one note. The named return lets the
// deferred stats snapshot cover every exit path.
func (p *Pipeline) Consolidate(ctx context.Context, in Input) (result Result, err error) {
	if strings.TrimSpace(in.Content) == "" {
		return Result{}, fmt.Errorf("consolidation: %w: empty note content", engine.ErrInvalidInput)
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	knownName := ""
	user, userErr := p.store.GetUser(ctx)
	switch {
	case userErr == nil:
		knownName = user.Name
	case errors.Is(userErr, graph.ErrNotFound):
		// First note; the user node is created lazily on write.
	default:
		return Result{}, fmt.Errorf("consolidation: load user: %w", userErr)
	}

	stats := &agents.Stats{}
	runner := agents.NewRunner(p.llmClient, stats, p.logger)

	var (
		contextMems []contextMemory
		extracted   *extractResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		contextMems, err = p.retrieveContext(gctx, runner, in)
		return err
	})
	g.Go(func() error {
		var err error
		extracted, err = p.extractAndResolve(gctx, runner, in, knownName)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	result = Result{Entities: []ResolvedEntity{}, Memories: []ResolvedMemory{}}
	defer func() {
		result.LLMCalls = stats.LLMCalls.Load()
		result.LLMRetries = stats.LLMRetries.Load()
	}()

	if len(extracted.memories) == 0 {
		result.Skipped = true
		result.SkipReason = SkipReasonNoMemories
		p.logger.Info("consolidation: skipped", "reason", result.SkipReason)
		return result, nil
	}

	decisions, err := p.resolveMemories(ctx, runner, extracted.memories, contextMems)
	if err != nil {
		return result, err
	}

	allSkipped := true
	for _, d := range decisions {
		if d.Action != agents.DecisionSkip {
			allSkipped = false
			break
		}
	}
	if allSkipped {
		result.Skipped = true
		result.SkipReason = SkipReasonDuplicates
		p.logger.Info("consolidation: skipped", "reason", result.SkipReason)
		return result, nil
	}

	if err := p.write(ctx, in, knownName, extracted, decisions, &result); err != nil {
		return result, err
	}

	p.logger.Info("consolidation: complete",
		"note_id", result.NoteID,
		"entities", len(result.Entities),
		"memories", len(result.Memories),
		"llm_calls", stats.LLMCalls.Load(),
	)
	return result, nil
}

// resolveMemories is the join step: every extracted memory judged against the
// shared existing-memory context.
func (p *Pipeline) resolveMemories(ctx context.Context, runner *agents.Runner, extracted []agents.ExtractedMemory, contextMems []contextMemory) ([]agents.MemoryDecision, error) {
	existing := make([]agents.ExistingMemory, len(contextMems))
	for i, m := range contextMems {
		existing[i] = agents.ExistingMemory{ID: m.id, Content: m.content, ValidAt: m.validAt}
	}
	out, err := agents.Run(ctx, runner, agents.MemoryResolverAgent, agents.MemoryResolverInput{
		Extracted: extracted,
		Existing:  existing,
	})
	if err != nil {
		return nil, fmt.Errorf("consolidation: resolve memories: %w", err)
	}
	return out.Decisions, nil
}

