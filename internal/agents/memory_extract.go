package agents

import (
	"fmt"
	"strings"
	"time"
)

// ResolvedEntitySummary is what memory extraction knows about each resolved
// entity: its final name, type, and whether it was created or matched.
type ResolvedEntitySummary struct {
	Name   string
	Type   string
	Action string
}

// MemoryExtractInput is the note plus its resolved entity context.
type MemoryExtractInput struct {
	NoteContent   string
	NoteTimestamp time.Time
	Entities      []ResolvedEntitySummary
}

// ExtractedMemory is one atomic fact mined from the note.
type ExtractedMemory struct {
	Content       string     `json:"content"`
	AboutEntities []string   `json:"aboutEntities"`
	ValidAt       *time.Time `json:"validAt"`
}

// MemoryExtractOutput is the list of extracted memories.
type MemoryExtractOutput struct {
	Memories []ExtractedMemory `json:"memories"`
}

const memoryExtractPrompt = `You extract atomic memories from a user's note for a personal knowledge graph.

Each memory is one self-contained factual statement. Split compound statements; each memory must stand alone without the note for context.

Rules:
- Rewrite all first-person references to the literal token USER: "I started at Acme" becomes "USER started at Acme".
- aboutEntities lists the entities the memory is about, using EXACTLY the resolved entity names provided. Include USER whenever the memory is about the user, even implicitly. Never invent entity names that are not in the resolved list.
- Preserve temporal phrases inside content as written ("last Tuesday", "in March"). Separately, compute validAt: the ISO 8601 instant the fact became true, resolved relative to the note's timestamp. When the note gives no temporal anchor, set validAt to null.
- Skip pure filler and meta-commentary; extract only durable facts, preferences, events, and plans.`

var memoryExtractSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"memories": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"content":       map[string]any{"type": "string"},
					"aboutEntities": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"validAt":       map[string]any{"type": []string{"string", "null"}, "format": "date-time"},
				},
				"required": []string{"content", "aboutEntities", "validAt"},
			},
		},
	},
	"required": []string{"memories"},
}

// MemoryExtractAgent turns a note into atomic memories. Entity-name
// discipline is validated case-insensitively against the resolved list.
var MemoryExtractAgent = Agent[MemoryExtractInput, MemoryExtractOutput]{
	Name:         "memory_extract",
	SystemPrompt: memoryExtractPrompt,
	FormatInput: func(in MemoryExtractInput) (string, error) {
		var b strings.Builder
		fmt.Fprintf(&b, "Note timestamp: %s\n\n", in.NoteTimestamp.UTC().Format(time.RFC3339))
		b.WriteString("Resolved entities:\n")
		if len(in.Entities) == 0 {
			b.WriteString("(none)\n")
		}
		for _, e := range in.Entities {
			fmt.Fprintf(&b, "- %s (%s, %s)\n", e.Name, e.Type, e.Action)
		}
		b.WriteString("\nNote:\n")
		b.WriteString(in.NoteContent)
		return b.String(), nil
	},
	Validate: func(in MemoryExtractInput, out MemoryExtractOutput) error {
		known := make(map[string]bool, len(in.Entities)+1)
		known["user"] = true
		for _, e := range in.Entities {
			known[strings.ToLower(e.Name)] = true
		}
		for i, m := range out.Memories {
			if strings.TrimSpace(m.Content) == "" {
				return fmt.Errorf("memory %d has empty content", i)
			}
			for _, name := range m.AboutEntities {
				if !known[strings.ToLower(name)] {
					return fmt.Errorf("memory %d references unknown entity %q", i, name)
				}
			}
		}
		return nil
	},
	Schema: memoryExtractSchema,
}
