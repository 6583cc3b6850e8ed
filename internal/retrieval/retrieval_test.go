package retrieval

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
)

func vecp(vals ...float32) *pgvector.Vector {
	v := pgvector.NewVector(vals)
	return &v
}

// fakeReader serves canned graph responses and records which reads ran.
type fakeReader struct {
	vectorHits []graph.MemoryHit
	textHits   []graph.MemoryHit
	pprHits    []graph.MemoryHit
	about      map[string][]graph.EntityRef
	infos      []model.EntityInfo
	chains     map[string][]model.InvalidatedMemory
	notes      map[string]model.Note

	pprCalled     bool
	pprSources    map[string]float64
	pprDamping    float64
	pprIterations int
}

func (f *fakeReader) GetEntityByID(context.Context, string) (model.Entity, error) {
	return model.Entity{}, graph.ErrNotFound
}

func (f *fakeReader) GetEntityByName(context.Context, string) (model.Entity, error) {
	return model.Entity{}, graph.ErrNotFound
}

func (f *fakeReader) GetEntityInfosByName(context.Context, []string) ([]model.EntityInfo, error) {
	return f.infos, nil
}

func (f *fakeReader) GetMemoryByID(context.Context, string) (model.Memory, error) {
	return model.Memory{}, graph.ErrNotFound
}

func (f *fakeReader) GetMemoriesByIDs(context.Context, []string) ([]model.Memory, error) {
	return nil, nil
}

func (f *fakeReader) GetUser(context.Context) (model.User, error) {
	return model.User{}, graph.ErrNotFound
}

func (f *fakeReader) SearchMemoriesByVector(context.Context, pgvector.Vector, int, bool) ([]graph.MemoryHit, error) {
	return f.vectorHits, nil
}

func (f *fakeReader) SearchMemoriesByText(context.Context, string, int, bool) ([]graph.MemoryHit, error) {
	return f.textHits, nil
}

func (f *fakeReader) SearchEntitiesHybrid(context.Context, string, pgvector.Vector, int) ([]graph.EntityHit, error) {
	return nil, nil
}

func (f *fakeReader) PersonalizedPageRank(_ context.Context, sources map[string]float64, damping float64, iterations, _ int) ([]graph.MemoryHit, error) {
	f.pprCalled = true
	f.pprSources = sources
	f.pprDamping = damping
	f.pprIterations = iterations
	return f.pprHits, nil
}

func (f *fakeReader) AboutEntities(context.Context, []string) (map[string][]graph.EntityRef, error) {
	return f.about, nil
}

func (f *fakeReader) InvalidationChains(context.Context, []string, int) (map[string][]model.InvalidatedMemory, error) {
	return f.chains, nil
}

func (f *fakeReader) ProvenanceNotes(context.Context, []string) (map[string]model.Note, error) {
	return f.notes, nil
}

func testPipeline(store graph.Reader) *Pipeline {
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
}

func mem(id, content string, emb *pgvector.Vector) model.Memory {
	return model.Memory{ID: id, Content: content, Embedding: emb, CreatedAt: time.Now()}
}

func TestRetrieveEmptyLand(t *testing.T) {
	store := &fakeReader{}
	out, err := testPipeline(store).Retrieve(context.Background(), "anything", pgvector.NewVector([]float32{1, 0}))
	require.NoError(t, err)
	assert.Empty(t, out.Memories)
	assert.Empty(t, out.Entities)
	assert.Equal(t, 0, out.Meta.TotalCandidates)
	assert.False(t, store.pprCalled, "no anchors means no graph walk")
}

func TestRetrieveFullPipeline(t *testing.T) {
	query := pgvector.NewVector([]float32{1, 0})

	m1 := mem("m1", "USER  uses   TypeScript daily", vecp(1, 0))
	m2 := mem("m2", "USER tends a garden", vecp(0.6, 0.8))
	m3 := mem("m3", "USER drinks coffee", vecp(0.2, 0.98))
	m5 := mem("m5", "USER wrote a TypeScript linter", vecp(0.9, 0.44))

	reason := "changed stack"
	invAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	desc := "A typed superset of JavaScript"

	store := &fakeReader{
		vectorHits: []graph.MemoryHit{
			{Memory: m1, Score: 0.9},
			{Memory: m2, Score: 0.6},
			{Memory: m3, Score: 0.3},
		},
		textHits: []graph.MemoryHit{
			{Memory: m1, Score: 0.85},
			{Memory: m2, Score: 0.55},
			{Memory: m3, Score: 0.2},
		},
		pprHits: []graph.MemoryHit{
			{Memory: m5, Score: 0.02},
			{Memory: m3, Score: 0.005},
		},
		about: map[string][]graph.EntityRef{
			"m1": {{ID: model.UserID, Name: "Alice"}, {ID: "e-ts", Name: "TypeScript"}},
			"m2": {{ID: model.UserID, Name: "Alice"}},
			"m5": {{ID: model.UserID, Name: "Alice"}, {ID: "e-ts", Name: "TypeScript"}},
		},
		infos: []model.EntityInfo{
			{Entity: model.Entity{ID: "e-ts", Name: "TypeScript", Type: model.EntityTechnology, Description: &desc, Embedding: vecp(1, 0)}, Degree: 2},
			{Entity: model.Entity{ID: model.UserID, Name: "Alice", Embedding: vecp(0.5, 0.5)}, Degree: 3, IsUser: true},
		},
		chains: map[string][]model.InvalidatedMemory{
			"m1": {{ID: "m0", Content: "USER used JavaScript", InvalidatedAt: &invAt, Reason: &reason}},
		},
		notes: map[string]model.Note{
			"m1": {ID: "n1", Content: "note text", Timestamp: time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)},
		},
	}

	out, err := testPipeline(store).Retrieve(context.Background(), "what language does the user like", query)
	require.NoError(t, err)

	require.True(t, store.pprCalled)
	assert.InDelta(t, 0.75, store.pprDamping, 1e-9)
	assert.Equal(t, 25, store.pprIterations)
	var total float64
	for _, w := range store.pprSources {
		total += w
	}
	assert.InDelta(t, 1.0, total, 1e-9, "anchor weights form a distribution")

	require.NotEmpty(t, out.Memories)
	top := out.Memories[0]
	assert.Equal(t, 1, top.Rank)
	assert.Equal(t, "m1", top.ID)
	assert.Equal(t, model.SourceMultiple, top.Source, "scored by both LAND sources")
	assert.Equal(t, "USER uses TypeScript daily", top.Content, "whitespace collapsed")
	assert.Equal(t, []string{"Alice", "TypeScript"}, top.About)
	assert.Equal(t, []string{model.UserID, "e-ts"}, top.AboutEntityIDs)
	require.Len(t, top.Invalidates, 1)
	assert.Equal(t, "m0", top.Invalidates[0].ID)
	require.NotNil(t, top.ExtractedFrom)
	assert.Equal(t, "n1", top.ExtractedFrom.NoteID)

	byID := make(map[string]model.RetrievedMemory)
	for i, m := range out.Memories {
		assert.Equal(t, i+1, m.Rank, "ranks are contiguous and 1-based")
		byID[m.ID] = m
	}
	require.Contains(t, byID, "m5", "graph-only memory surfaced by EXPAND")
	assert.Equal(t, model.SourceSemPPR, byID["m5"].Source)

	require.NotEmpty(t, out.Entities)
	assert.True(t, out.Entities[0].IsUser, "user entity sorts first")
	assert.Equal(t, "Alice", out.Entities[0].Name)
	for _, e := range out.Entities {
		assert.Greater(t, e.MemoryCount, 0)
	}

	// Two LAND survivors plus two EXPAND hits.
	assert.Equal(t, 4, out.Meta.TotalCandidates)
	assert.GreaterOrEqual(t, out.Meta.DurationMs, int64(0))
}

func TestRetrieveNoAnchorsStillReturnsLand(t *testing.T) {
	m1 := mem("m1", "USER naps", vecp(1, 0))
	store := &fakeReader{
		vectorHits: []graph.MemoryHit{
			{Memory: m1, Score: 0.9},
			{Memory: mem("m2", "USER swims", vecp(0.7, 0.7)), Score: 0.5},
			{Memory: mem("m3", "USER hikes", vecp(0, 1)), Score: 0.2},
		},
		about: map[string][]graph.EntityRef{},
	}

	out, err := testPipeline(store).Retrieve(context.Background(), "hobbies", pgvector.NewVector([]float32{1, 0}))
	require.NoError(t, err)
	assert.False(t, store.pprCalled, "empty anchor set short-circuits EXPAND")
	require.NotEmpty(t, out.Memories)
	assert.Equal(t, "m1", out.Memories[0].ID)
	assert.Equal(t, model.SourceVector, out.Memories[0].Source)
}

func TestExpandKeepsStructuralScoreWithoutEmbedding(t *testing.T) {
	noEmb := mem("mx", "USER has a cat", nil)
	store := &fakeReader{pprHits: []graph.MemoryHit{{Memory: noEmb, Score: 0.42}}}
	p := testPipeline(store)

	out, err := p.expand(context.Background(), map[string]float64{"e1": 1}, pgvector.NewVector([]float32{1, 0}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.42, out[0].score, 1e-9)
	assert.Equal(t, model.SourceSemPPR, out[0].source)
}

func TestFuseTagsAndFloor(t *testing.T) {
	p := testPipeline(&fakeReader{})
	a := []candidate{
		{memory: mem("m1", "a", nil), score: 0.9, source: model.SourceVector},
		{memory: mem("m2", "b", nil), score: 0.6, source: model.SourceVector},
		{memory: mem("m3", "c", nil), score: 0.3, source: model.SourceVector},
	}
	b := []candidate{
		{memory: mem("m1", "a", nil), score: 0.8, source: model.SourceFulltext},
		{memory: mem("m4", "d", nil), score: 0.5, source: model.SourceFulltext},
		{memory: mem("m5", "e", nil), score: 0.1, source: model.SourceFulltext},
	}

	fused := p.fuse(a, b, true)
	byID := make(map[string]candidate)
	for _, c := range fused {
		byID[c.memory.ID] = c
	}

	require.Contains(t, byID, "m1")
	assert.Equal(t, model.SourceMultiple, byID["m1"].source)
	assert.Equal(t, "m1", fused[0].memory.ID, "top of both lists wins")

	assert.NotContains(t, byID, "m3", "bottom of the normalized range falls below the quality floor")
	assert.NotContains(t, byID, "m5")

	require.Contains(t, byID, "m2")
	assert.Equal(t, model.SourceVector, byID["m2"].source, "single-source item keeps its tag")
}
