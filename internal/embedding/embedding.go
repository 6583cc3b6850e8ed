// Package embedding provides vector embedding generation for semantic search.
//
// Defines a Provider interface with OpenAI and Ollama implementations. The
// interface allows swapping embedding providers without changing consumers.
// Empty input is rejected at this layer: an embedding of nothing is never
// meaningful, and letting it through would poison similarity scores downstream.
package embedding

import (
	"context"
	"errors"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// ErrEmptyText is returned when a caller asks to embed blank input.
var ErrEmptyText = errors.New("embedding: empty text")

// Provider generates vector embeddings from text.
type Provider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) (pgvector.Vector, error)

	// EmbedBatch generates embeddings for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// validateBatch rejects empty batches and blank entries up front so providers
// never ship malformed requests.
func validateBatch(texts []string) error {
	if len(texts) == 0 {
		return ErrEmptyText
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return ErrEmptyText
		}
	}
	return nil
}

// NoopProvider returns zero vectors. Used when no API key is configured.
type NoopProvider struct {
	dims int
}

// NewNoopProvider creates a provider that returns zero vectors.
func NewNoopProvider(dims int) *NoopProvider {
	return &NoopProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *NoopProvider) Dimensions() int {
	return p.dims
}

// Embed returns a zero vector.
func (p *NoopProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vecs[0], nil
}

// EmbedBatch returns zero vectors.
func (p *NoopProvider) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}
	vecs := make([]pgvector.Vector, len(texts))
	for i := range vecs {
		vecs[i] = pgvector.NewVector(make([]float32, p.dims))
	}
	return vecs, nil
}
