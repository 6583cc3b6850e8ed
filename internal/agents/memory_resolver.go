package agents

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/memento/internal/engine"
)

// ExistingMemory is a stored memory shown to the resolver as shared context.
type ExistingMemory struct {
	ID      string
	Content string
	ValidAt *time.Time
}

// MemoryResolverInput is every extracted memory alongside every existing
// memory the first retrieval pass surfaced. The context is shared, not
// per-memory.
type MemoryResolverInput struct {
	Extracted []ExtractedMemory
	Existing  []ExistingMemory
}

// Resolver decisions for extracted memories.
const (
	DecisionAdd        = "ADD"
	DecisionSkip       = "SKIP"
	DecisionInvalidate = "INVALIDATE"
)

// InvalidationTarget names one existing memory an INVALIDATE decision
// supersedes, with the reason.
type InvalidationTarget struct {
	ExistingMemoryID string `json:"existingMemoryId"`
	Reason           string `json:"reason"`
}

// MemoryDecision is the verdict for one extracted memory, in input order.
type MemoryDecision struct {
	Action  string               `json:"action"`
	Targets []InvalidationTarget `json:"targets"`
}

// MemoryResolverOutput aligns one decision per extracted memory.
type MemoryResolverOutput struct {
	Decisions []MemoryDecision `json:"decisions"`
}

const memoryResolverPrompt = `You decide how each newly extracted memory relates to the user's existing memories.

Return exactly one decision per extracted memory, in the same order:
- SKIP: the fact is already stored. Same fact, possibly reworded, is a duplicate.
- ADD: the fact is new and does not contradict anything stored.
- INVALIDATE: the fact supersedes one or more existing memories. List every superseded memory as a target with its id and a short reason. The new memory is still stored; INVALIDATE marks the old ones as no longer current.

Rules:
- State changes invalidate: a new job invalidates the old job, a move invalidates the old location, a marriage invalidates an engagement, a completion invalidates the in-progress state.
- A temporal restatement of the same fact is a correction: it INVALIDATEs the earlier form.
- Different event identifiers are different events: attending the same conference in consecutive years is an ADD, not an invalidation.
- Only use ids from the existing memories list.`

var memoryResolverSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"decisions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"action": map[string]any{"type": "string", "enum": []string{DecisionAdd, DecisionSkip, DecisionInvalidate}},
					"targets": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":                 "object",
							"additionalProperties": false,
							"properties": map[string]any{
								"existingMemoryId": map[string]any{"type": "string"},
								"reason":           map[string]any{"type": "string"},
							},
							"required": []string{"existingMemoryId", "reason"},
						},
					},
				},
				"required": []string{"action", "targets"},
			},
		},
	},
	"required": []string{"decisions"},
}

// MemoryResolverAgent dedupes and invalidates against existing memories. Its
// validator enforces one decision per extracted memory and that every
// invalidation target is a known existing id.
var MemoryResolverAgent = Agent[MemoryResolverInput, MemoryResolverOutput]{
	Name:         "memory_resolver",
	SystemPrompt: memoryResolverPrompt,
	FormatInput: func(in MemoryResolverInput) (string, error) {
		var b strings.Builder
		b.WriteString("Existing memories:\n")
		if len(in.Existing) == 0 {
			b.WriteString("(none)\n")
		}
		for _, m := range in.Existing {
			if m.ValidAt != nil {
				fmt.Fprintf(&b, "- id=%s validAt=%s: %s\n", m.ID, m.ValidAt.UTC().Format("2006-01-02"), m.Content)
			} else {
				fmt.Fprintf(&b, "- id=%s: %s\n", m.ID, m.Content)
			}
		}
		b.WriteString("\nNewly extracted memories:\n")
		for i, m := range in.Extracted {
			fmt.Fprintf(&b, "%d. %s\n", i+1, m.Content)
		}
		return b.String(), nil
	},
	Validate: func(in MemoryResolverInput, out MemoryResolverOutput) error {
		if len(out.Decisions) != len(in.Extracted) {
			return fmt.Errorf("%w: got %d decisions for %d memories",
				engine.ErrAgentAlignment, len(out.Decisions), len(in.Extracted))
		}
		ids := make(map[string]bool, len(in.Existing))
		for _, m := range in.Existing {
			ids[m.ID] = true
		}
		for i, d := range out.Decisions {
			switch d.Action {
			case DecisionAdd, DecisionSkip:
			case DecisionInvalidate:
				if len(d.Targets) == 0 {
					return fmt.Errorf("decision %d is INVALIDATE with no targets", i)
				}
			default:
				return fmt.Errorf("decision %d has unknown action %q", i, d.Action)
			}
			for _, tgt := range d.Targets {
				if !ids[tgt.ExistingMemoryID] {
					return fmt.Errorf("%w: decision %d targets unknown memory %q",
						engine.ErrAgentAlignment, i, tgt.ExistingMemoryID)
				}
			}
		}
		return nil
	},
	Schema: memoryResolverSchema,
}
