// Package retrieval implements the five-phase memory retrieval pipeline:
// LAND (parallel vector + full-text search), ANCHOR (entity selection),
// EXPAND (personalized PageRank with semantic re-scoring), DISTILL (fusion +
// MMR diversity), TRACE (graph context enrichment).
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
)

// Config holds the pipeline tunables. Zero values are replaced by defaults in
// New, so callers only set what they want to change.
type Config struct {
	// LandCandidates bounds each LAND search and the EXPAND walk.
	LandCandidates int
	// BaseVectorWeight / BaseFulltextWeight are the fusion base weights.
	BaseVectorWeight   float64
	BaseFulltextWeight float64
	// CoverageThreshold is the fraction of LandCandidates a source must fill
	// to keep its full base weight.
	CoverageThreshold float64
	// QualityFloor drops normalized per-source scores below it before fusion.
	QualityFloor float64
	// TargetMean / TargetStd is the distribution both sources are aligned to.
	TargetMean float64
	TargetStd  float64
	// AnchorMinMemories is the minimum LAND-result frequency for an anchor.
	AnchorMinMemories int
	// Damping / Iterations drive the personalized-PageRank walk.
	Damping    float64
	Iterations int
	// SemPPRAlpha blends structural and semantic scores during EXPAND.
	SemPPRAlpha float64
	// TopK is the DISTILL output size.
	TopK int
	// LambdaMin / LambdaMax bound the adaptive MMR trade-off.
	LambdaMin float64
	LambdaMax float64
	// InvalidationDepth bounds the TRACE invalidation chain.
	InvalidationDepth int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LandCandidates:     100,
		BaseVectorWeight:   0.7,
		BaseFulltextWeight: 0.3,
		CoverageThreshold:  0.3,
		QualityFloor:       0.3,
		TargetMean:         0.5,
		TargetStd:          0.2,
		AnchorMinMemories:  1,
		Damping:            0.75,
		Iterations:         25,
		SemPPRAlpha:        0.5,
		TopK:               10,
		LambdaMin:          0.3,
		LambdaMax:          0.7,
		InvalidationDepth:  2,
	}
}

// Pipeline runs retrieval against a graph backend.
type Pipeline struct {
	store  graph.Reader
	logger *slog.Logger
	cfg    Config
}

// New creates a Pipeline, filling zero Config fields with defaults.
func New(store graph.Reader, logger *slog.Logger, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.LandCandidates <= 0 {
		cfg.LandCandidates = def.LandCandidates
	}
	if cfg.BaseVectorWeight <= 0 {
		cfg.BaseVectorWeight = def.BaseVectorWeight
	}
	if cfg.BaseFulltextWeight <= 0 {
		cfg.BaseFulltextWeight = def.BaseFulltextWeight
	}
	if cfg.CoverageThreshold <= 0 {
		cfg.CoverageThreshold = def.CoverageThreshold
	}
	if cfg.QualityFloor <= 0 {
		cfg.QualityFloor = def.QualityFloor
	}
	if cfg.TargetMean <= 0 {
		cfg.TargetMean = def.TargetMean
	}
	if cfg.TargetStd <= 0 {
		cfg.TargetStd = def.TargetStd
	}
	if cfg.AnchorMinMemories <= 0 {
		cfg.AnchorMinMemories = def.AnchorMinMemories
	}
	if cfg.Damping <= 0 {
		cfg.Damping = def.Damping
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.SemPPRAlpha <= 0 {
		cfg.SemPPRAlpha = def.SemPPRAlpha
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.LambdaMin <= 0 {
		cfg.LambdaMin = def.LambdaMin
	}
	if cfg.LambdaMax <= 0 {
		cfg.LambdaMax = def.LambdaMax
	}
	if cfg.InvalidationDepth <= 0 {
		cfg.InvalidationDepth = def.InvalidationDepth
	}
	return &Pipeline{store: store, logger: logger, cfg: cfg}
}

// candidate is a memory moving through the pipeline with its running score
// and source tag.
type candidate struct {
	memory model.Memory
	score  float64
	source model.Source
}

// Retrieve runs the full pipeline for a query and its embedding.
func (p *Pipeline) Retrieve(ctx context.Context, query string, embedding pgvector.Vector) (model.RetrievalOutput, error) {
	start := time.Now()
	out := model.RetrievalOutput{
		Query:    query,
		Entities: []model.RetrievedEntity{},
		Memories: []model.RetrievedMemory{},
	}

	landed, err := p.land(ctx, query, embedding)
	if err != nil {
		return out, fmt.Errorf("retrieval: land: %w", err)
	}
	if len(landed) == 0 {
		out.Meta.DurationMs = time.Since(start).Milliseconds()
		return out, nil
	}

	anchors, err := p.anchor(ctx, landed, embedding)
	if err != nil {
		return out, fmt.Errorf("retrieval: anchor: %w", err)
	}

	expanded, err := p.expand(ctx, anchors, embedding)
	if err != nil {
		return out, fmt.Errorf("retrieval: expand: %w", err)
	}

	selected := p.distill(landed, expanded)

	if err := p.trace(ctx, selected, &out); err != nil {
		return out, fmt.Errorf("retrieval: trace: %w", err)
	}

	out.Meta.TotalCandidates = len(landed) + len(expanded)
	out.Meta.DurationMs = time.Since(start).Milliseconds()

	p.logger.Debug("retrieval: pipeline complete",
		"landed", len(landed),
		"anchors", len(anchors),
		"expanded", len(expanded),
		"selected", len(selected),
		"duration_ms", out.Meta.DurationMs,
	)
	return out, nil
}
