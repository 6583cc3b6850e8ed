// Package service composes the memory pipelines behind a single facade used
// by the HTTP server and the MCP tools.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/memento/internal/consolidation"
	"github.com/ashita-ai/memento/internal/embedding"
	"github.com/ashita-ai/memento/internal/engine"
	"github.com/ashita-ai/memento/internal/model"
	"github.com/ashita-ai/memento/internal/service/notes"
)

// Consolidator runs the write pipeline for one note.
type Consolidator interface {
	Consolidate(ctx context.Context, in consolidation.Input) (consolidation.Result, error)
}

// Retriever runs the read pipeline for a query and its embedding.
type Retriever interface {
	Retrieve(ctx context.Context, query string, embedding pgvector.Vector) (model.RetrievalOutput, error)
}

// Service is the shared application surface. With a queue configured, notes
// are accepted asynchronously; otherwise they consolidate inline.
type Service struct {
	consolidator Consolidator
	retriever    Retriever
	embedder     embedding.Provider
	queue        *notes.Queue // nil means synchronous intake
	logger       *slog.Logger
}

// New creates a Service. queue may be nil for synchronous note intake.
func New(consolidator Consolidator, retriever Retriever, embedder embedding.Provider, queue *notes.Queue, logger *slog.Logger) *Service {
	return &Service{
		consolidator: consolidator,
		retriever:    retriever,
		embedder:     embedder,
		queue:        queue,
		logger:       logger,
	}
}

// NoteOutcome reports what happened to a submitted note. With Queued set the
// Result is empty: consolidation happens later on the worker.
type NoteOutcome struct {
	Queued bool
	Result consolidation.Result
}

// AddNote validates and ingests a note. The timestamp defaults to the
// current time when zero.
func (s *Service) AddNote(ctx context.Context, content string, timestamp time.Time) (NoteOutcome, error) {
	if strings.TrimSpace(content) == "" {
		return NoteOutcome{}, fmt.Errorf("service: empty note content: %w", engine.ErrInvalidInput)
	}
	if len(content) > model.MaxNoteContentLen {
		return NoteOutcome{}, fmt.Errorf("service: note content exceeds %d bytes: %w", model.MaxNoteContentLen, engine.ErrInvalidInput)
	}
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	in := consolidation.Input{Content: content, Timestamp: timestamp}

	if s.queue != nil {
		if err := s.queue.Enqueue(in); err != nil {
			return NoteOutcome{}, err
		}
		return NoteOutcome{Queued: true}, nil
	}

	res, err := s.consolidator.Consolidate(ctx, in)
	if err != nil {
		return NoteOutcome{}, err
	}
	return NoteOutcome{Result: res}, nil
}

// Retrieve embeds the query and runs the retrieval pipeline. topK, when
// positive, caps the returned memories below the pipeline's own limit.
func (s *Service) Retrieve(ctx context.Context, query string, topK int) (model.RetrievalOutput, error) {
	if strings.TrimSpace(query) == "" {
		return model.RetrievalOutput{}, fmt.Errorf("service: empty query: %w", engine.ErrInvalidInput)
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return model.RetrievalOutput{}, fmt.Errorf("service: embed query: %w: %w", engine.ErrDependencyUnavailable, err)
	}

	out, err := s.retriever.Retrieve(ctx, query, vec)
	if err != nil {
		return model.RetrievalOutput{}, err
	}
	if topK > 0 && len(out.Memories) > topK {
		out.Memories = out.Memories[:topK]
	}
	return out, nil
}

// QueueDepth returns the number of pending notes, or 0 without a queue.
func (s *Service) QueueDepth() int {
	if s.queue == nil {
		return 0
	}
	return s.queue.Len()
}
