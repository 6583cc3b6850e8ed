// Package search provides an optional external vector index over memory
// embeddings with transparent fallback to the graph store. The graph store
// remains the source of truth; the index only accelerates the vector arm of
// candidate generation.
package search

import (
	"context"
	"log/slog"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
)

// Result holds a memory ID and its raw similarity score from the index.
// The caller hydrates full Memory rows from the graph store.
type Result struct {
	MemoryID string
	Score    float32
}

// Index is the contract for an external vector index over memories.
// Implementations must be safe for concurrent use.
type Index interface {
	// Search returns memory IDs similar to the embedding, best first.
	// The index holds only valid memories; invalidated ones are removed
	// by the sync worker.
	Search(ctx context.Context, embedding []float32, limit int) ([]Result, error)

	// Healthy returns nil if the index is reachable.
	Healthy(ctx context.Context) error
}

// Accelerated wraps a graph.Store and serves vector search from an external
// index when it is healthy, falling back to the store otherwise. Hits are
// hydrated from the store, so rows deleted or invalidated after the last
// index sync are dropped rather than served stale.
type Accelerated struct {
	graph.Store
	index  Index
	logger *slog.Logger
}

// NewAccelerated wraps store with index-served vector search.
func NewAccelerated(store graph.Store, index Index, logger *slog.Logger) *Accelerated {
	return &Accelerated{Store: store, index: index, logger: logger}
}

var _ graph.Store = (*Accelerated)(nil)

// SearchMemoriesByVector serves the query from the index when possible.
// Any index failure degrades to the underlying store.
func (a *Accelerated) SearchMemoriesByVector(ctx context.Context, embedding pgvector.Vector, k int, validOnly bool) ([]graph.MemoryHit, error) {
	if err := a.index.Healthy(ctx); err != nil {
		a.logger.Debug("search: index unhealthy, using graph store", "error", err)
		return a.Store.SearchMemoriesByVector(ctx, embedding, k, validOnly)
	}

	results, err := a.index.Search(ctx, embedding.Slice(), k)
	if err != nil {
		a.logger.Warn("search: index query failed, using graph store", "error", err)
		return a.Store.SearchMemoriesByVector(ctx, embedding, k, validOnly)
	}
	if len(results) == 0 {
		return nil, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.MemoryID
	}
	memories, err := a.Store.GetMemoriesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Memory, len(memories))
	for _, m := range memories {
		byID[m.ID] = m
	}

	hits := make([]graph.MemoryHit, 0, len(results))
	for _, r := range results {
		m, ok := byID[r.MemoryID]
		if !ok {
			continue // deleted since the last sync
		}
		if validOnly && m.InvalidAt != nil {
			continue
		}
		hits = append(hits, graph.MemoryHit{Memory: m, Score: float64(r.Score)})
	}
	return hits, nil
}
