package format

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/memento/internal/model"
)

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 15, 30, 0, 0, time.UTC)
	return &t
}

func fixtureOutput() model.RetrievalOutput {
	desc := "A typed superset of JavaScript"
	wellKnownDesc := "A major cloud provider"
	reason := "changed stack"
	note := &model.Provenance{
		NoteID:        "n1",
		NoteContent:   "Started learning TypeScript",
		NoteTimestamp: time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
	}
	return model.RetrievalOutput{
		Query: "what is the user learning",
		Entities: []model.RetrievedEntity{
			{ID: model.UserID, Name: "Alice", IsUser: true, MemoryCount: 2},
			{ID: "e1", Name: "TypeScript", Type: "Technology", Description: &desc, MemoryCount: 2},
			{ID: "e2", Name: "AWS", Type: "Technology", Description: &wellKnownDesc, IsWellKnown: true, MemoryCount: 1},
			{ID: "e3", Name: "Orphan", Type: "Concept", MemoryCount: 0},
		},
		Memories: []model.RetrievedMemory{
			{
				Rank: 1, ID: "m1",
				Content: "USER is learning TypeScript",
				About:   []string{"Alice", "TypeScript"},
				ValidAt: datePtr(2026, 1, 5),
				Invalidates: []model.InvalidatedMemory{
					{
						ID: "m0", Content: "USER only knows JavaScript",
						InvalidatedAt: datePtr(2026, 1, 5), Reason: &reason,
					},
				},
				ExtractedFrom: note,
			},
			{
				Rank: 2, ID: "m2",
				Content:       "USER deployed a TypeScript service to AWS",
				About:         []string{"Alice", "TypeScript", "AWS"},
				ExtractedFrom: note,
			},
		},
	}
}

func TestRenderStructure(t *testing.T) {
	got := Render(fixtureOutput(), time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC))

	assert.True(t, strings.HasPrefix(got, "<memento>\n"))
	assert.True(t, strings.HasSuffix(got, "</memento>"))
	assert.Contains(t, got, "<current-date>2026-08-26</current-date>")
	assert.Contains(t, got, "<query>what is the user learning</query>")

	assert.Equal(t, 1, strings.Count(got, "<entities>"), "exactly one entities section")
	assert.Contains(t, got, `<entity name="Alice"`)
	assert.Contains(t, got, `is-user="true"`)
	assert.Contains(t, got, `<entity name="TypeScript" type="Technology">A typed superset of JavaScript</entity>`)
	assert.NotContains(t, got, "AWS\" type", "well-known entities are dropped")
	assert.NotContains(t, got, "Orphan", "unreferenced entities are dropped")

	assert.Equal(t, 1, strings.Count(got, "<notes>"), "exactly one notes section")
	assert.Equal(t, 1, strings.Count(got, `<note id="note-01"`), "shared note appears once")
	assert.Contains(t, got, `timestamp="2026-01-05"`)

	assert.Equal(t, 2, strings.Count(got, "<memory"), "one element per memory")
	assert.Equal(t, 2, strings.Count(got, `<extracted_from note_id="note-01"/>`))

	assert.Contains(t, got, `<invalidates reason="changed stack" invalid-at="2026-01-05">`)
	assert.Contains(t, got, "USER only knows JavaScript")
	assert.Contains(t, got, `valid-at="2026-01-05"`)
}

func TestRenderDeterministic(t *testing.T) {
	now := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	a := Render(fixtureOutput(), now)
	b := Render(fixtureOutput(), now)
	assert.Equal(t, a, b)
}

func TestRenderNestedInvalidationChain(t *testing.T) {
	out := fixtureOutput()
	r1, r2 := "correction", "older correction"
	out.Memories[0].Invalidates = []model.InvalidatedMemory{{
		ID: "m0", Content: "hop one", Reason: &r1,
		Invalidated: []model.InvalidatedMemory{{ID: "m-1", Content: "hop two", Reason: &r2}},
	}}

	got := Render(out, time.Now())
	require.Equal(t, 2, strings.Count(got, "<invalidates"))
	assert.Less(t, strings.Index(got, "hop one"), strings.Index(got, "hop two"))
}

func TestRenderEmptyOutput(t *testing.T) {
	got := Render(model.RetrievalOutput{Query: "q"}, time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC))
	assert.NotContains(t, got, "<entities>")
	assert.NotContains(t, got, "<notes>")
	assert.Contains(t, got, "<memories>\n</memories>")
}
