// Package format renders retrieval output as a structured text block for
// injection into a downstream LLM's user message. The block is deterministic
// for a fixed input, so it can be snapshot-tested.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/memento/internal/model"
)

// instructions is the fixed preamble explaining the block to the downstream
// model.
const instructions = `The following is relevant context about the user, retrieved from their personal memory. Memories are facts extracted from the user's own notes; "USER" refers to the user. An invalidated memory is no longer current — it is included only as history, superseded by the memory that invalidates it. Use this context to personalize your answer. Do not mention the memory system unless the user asks about it.`

// Render produces the context block for a retrieval result. now supplies the
// current-date field; everything else is a pure function of out.
func Render(out model.RetrievalOutput, now time.Time) string {
	var b strings.Builder

	b.WriteString("<memento>\n")
	b.WriteString("<instructions>\n")
	b.WriteString(instructions)
	b.WriteString("\n</instructions>\n")
	fmt.Fprintf(&b, "<current-date>%s</current-date>\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "<query>%s</query>\n", out.Query)

	writeEntities(&b, out.Entities)

	noteIDs := collectNotes(&b, out.Memories)

	b.WriteString("<memories>\n")
	for _, m := range out.Memories {
		writeMemory(&b, m, noteIDs)
	}
	b.WriteString("</memories>\n")

	b.WriteString("</memento>")
	return b.String()
}

// writeEntities renders the entity section, dropping entities no selected
// memory references and well-known entities whose description adds nothing.
func writeEntities(b *strings.Builder, entities []model.RetrievedEntity) {
	var kept []model.RetrievedEntity
	for _, e := range entities {
		if e.MemoryCount == 0 || e.IsWellKnown {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		return
	}
	b.WriteString("<entities>\n")
	for _, e := range kept {
		fmt.Fprintf(b, `<entity name=%q type=%q`, e.Name, e.Type)
		if e.IsUser {
			b.WriteString(` is-user="true"`)
		}
		if e.Description != nil && *e.Description != "" {
			fmt.Fprintf(b, ">%s</entity>\n", *e.Description)
		} else {
			b.WriteString("/>\n")
		}
	}
	b.WriteString("</entities>\n")
}

// collectNotes renders the deduplicated notes section in first-reference
// order and returns the note-id assignment used by the memory elements.
func collectNotes(b *strings.Builder, memories []model.RetrievedMemory) map[string]string {
	ids := make(map[string]string)
	var ordered []*model.Provenance
	for _, m := range memories {
		if m.ExtractedFrom == nil {
			continue
		}
		if _, seen := ids[m.ExtractedFrom.NoteID]; seen {
			continue
		}
		ids[m.ExtractedFrom.NoteID] = fmt.Sprintf("note-%02d", len(ordered)+1)
		ordered = append(ordered, m.ExtractedFrom)
	}
	if len(ordered) == 0 {
		return ids
	}
	b.WriteString("<notes>\n")
	for _, p := range ordered {
		fmt.Fprintf(b, "<note id=%q timestamp=%q>%s</note>\n",
			ids[p.NoteID], p.NoteTimestamp.Format("2006-01-02"), p.NoteContent)
	}
	b.WriteString("</notes>\n")
	return ids
}

func writeMemory(b *strings.Builder, m model.RetrievedMemory, noteIDs map[string]string) {
	b.WriteString("<memory")
	if m.ValidAt != nil {
		fmt.Fprintf(b, " valid-at=%q", m.ValidAt.Format("2006-01-02"))
	}
	b.WriteString(">\n")
	b.WriteString(m.Content)
	b.WriteString("\n")
	if len(m.About) > 0 {
		fmt.Fprintf(b, "<about>%s</about>\n", strings.Join(m.About, ", "))
	}
	for _, inv := range m.Invalidates {
		writeInvalidated(b, inv)
	}
	if m.ExtractedFrom != nil {
		if id, ok := noteIDs[m.ExtractedFrom.NoteID]; ok {
			fmt.Fprintf(b, "<extracted_from note_id=%q/>\n", id)
		}
	}
	b.WriteString("</memory>\n")
}

// writeInvalidated renders one hop of an invalidation chain. Depth is bounded
// upstream, so recursion terminates.
func writeInvalidated(b *strings.Builder, inv model.InvalidatedMemory) {
	b.WriteString("<invalidates")
	if inv.Reason != nil && *inv.Reason != "" {
		fmt.Fprintf(b, " reason=%q", *inv.Reason)
	}
	if inv.InvalidatedAt != nil {
		fmt.Fprintf(b, " invalid-at=%q", inv.InvalidatedAt.Format("2006-01-02"))
	}
	b.WriteString(">\n")
	b.WriteString(inv.Content)
	b.WriteString("\n")
	for _, nested := range inv.Invalidated {
		writeInvalidated(b, nested)
	}
	b.WriteString("</invalidates>\n")
}
