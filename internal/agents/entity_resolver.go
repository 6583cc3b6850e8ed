package agents

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/memento/internal/engine"
)

// EntityMatch is one hybrid-search hit shown to the resolver as a merge
// candidate.
type EntityMatch struct {
	ID          string
	Name        string
	Type        string
	Description string
	Similarity  float64
}

// EntityToResolve pairs an extracted entity with its search candidates.
type EntityToResolve struct {
	Name        string
	Type        string
	Description string
	IsWellKnown bool
	Matches     []EntityMatch
}

// EntityResolverInput is the full resolution context: every extracted entity
// with its candidates, plus the user's stored description and any freshly
// extracted biographical facts.
type EntityResolverInput struct {
	Entities               []EntityToResolve
	CurrentUserDescription *string
	UserBiographicalFacts  *string
}

// Resolver actions.
const (
	ActionCreate = "CREATE"
	ActionMatch  = "MATCH"
)

// EntityResolution is the decision for one extracted entity, in input order.
type EntityResolution struct {
	Name              string `json:"name"`
	Action            string `json:"action"`
	MatchedEntityID   string `json:"matchedEntityId"`
	UpdateDescription bool   `json:"updateDescription"`
}

// UserDescriptionUpdate is the resolver's decision about the user's stored
// description, merged from the current description and the new facts.
type UserDescriptionUpdate struct {
	Description  string `json:"description"`
	ShouldUpdate bool   `json:"shouldUpdate"`
	Reason       string `json:"reason"`
}

// EntityResolverOutput aligns one resolution per input entity.
type EntityResolverOutput struct {
	Resolutions           []EntityResolution     `json:"resolutions"`
	UserDescriptionUpdate *UserDescriptionUpdate `json:"userDescriptionUpdate"`
}

const entityResolverPrompt = `You decide, for each newly extracted entity, whether it is the same as an entity already in the user's knowledge graph.

For each input entity you are given its name, type, description, and a list of candidate matches from the graph with similarity scores. Return exactly one resolution per input entity, in the same order, echoing the input entity's name.

- action MATCH: the entity is the same real-world thing as one candidate. Set matchedEntityId to that candidate's id. Set updateDescription to true only when the new description adds real information the stored one lacks.
- action CREATE: no candidate is the same thing. Set matchedEntityId to "" and updateDescription to false.

Rules:
- Entities with the same name but a different type are DIFFERENT entities (the person "Mercury" is not the planet "Mercury").
- A similar name alone is not a match; the descriptions must plausibly refer to the same thing.
- When in doubt, CREATE. A wrong merge corrupts the graph; a duplicate is merely untidy.

You are also given the user's current stored description (may be absent) and biographical facts extracted from the new note (may be absent). If the new facts add to or change the stored description, return userDescriptionUpdate with the merged description, shouldUpdate true, and a one-line reason. Otherwise return userDescriptionUpdate with shouldUpdate false, or null when there are no new facts at all.`

var entityResolverSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"resolutions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"name":              map[string]any{"type": "string"},
					"action":            map[string]any{"type": "string", "enum": []string{ActionCreate, ActionMatch}},
					"matchedEntityId":   map[string]any{"type": "string"},
					"updateDescription": map[string]any{"type": "boolean"},
				},
				"required": []string{"name", "action", "matchedEntityId", "updateDescription"},
			},
		},
		"userDescriptionUpdate": map[string]any{
			"type": []string{"object", "null"},
			"properties": map[string]any{
				"description":  map[string]any{"type": "string"},
				"shouldUpdate": map[string]any{"type": "boolean"},
				"reason":       map[string]any{"type": "string"},
			},
			"required":             []string{"description", "shouldUpdate", "reason"},
			"additionalProperties": false,
		},
	},
	"required": []string{"resolutions", "userDescriptionUpdate"},
}

// EntityResolverAgent matches extracted entities against the graph. Its
// validator enforces one-to-one, order-preserving alignment with the input
// list; a misaligned response is not retryable with the same input.
var EntityResolverAgent = Agent[EntityResolverInput, EntityResolverOutput]{
	Name:         "entity_resolver",
	SystemPrompt: entityResolverPrompt,
	FormatInput: func(in EntityResolverInput) (string, error) {
		var b strings.Builder
		b.WriteString("Extracted entities and their candidate matches:\n\n")
		for i, e := range in.Entities {
			fmt.Fprintf(&b, "%d. %s (%s): %s\n", i+1, e.Name, e.Type, e.Description)
			if len(e.Matches) == 0 {
				b.WriteString("   No candidates found.\n")
			}
			for _, m := range e.Matches {
				fmt.Fprintf(&b, "   - id=%s name=%q type=%s similarity=%.2f description=%q\n",
					m.ID, m.Name, m.Type, m.Similarity, m.Description)
			}
			b.WriteString("\n")
		}
		if in.CurrentUserDescription != nil {
			fmt.Fprintf(&b, "Current user description: %s\n", *in.CurrentUserDescription)
		} else {
			b.WriteString("Current user description: (none)\n")
		}
		if in.UserBiographicalFacts != nil {
			fmt.Fprintf(&b, "New biographical facts: %s\n", *in.UserBiographicalFacts)
		} else {
			b.WriteString("New biographical facts: (none)\n")
		}
		return b.String(), nil
	},
	Validate: func(in EntityResolverInput, out EntityResolverOutput) error {
		if len(out.Resolutions) != len(in.Entities) {
			return fmt.Errorf("%w: got %d resolutions for %d entities",
				engine.ErrAgentAlignment, len(out.Resolutions), len(in.Entities))
		}
		for i, res := range out.Resolutions {
			if !strings.EqualFold(res.Name, in.Entities[i].Name) {
				return fmt.Errorf("%w: resolution %d names %q, input entity is %q",
					engine.ErrAgentAlignment, i, res.Name, in.Entities[i].Name)
			}
			if res.Action == ActionMatch && res.MatchedEntityID == "" {
				return fmt.Errorf("MATCH resolution for %q has no matchedEntityId", res.Name)
			}
			if res.Action != ActionMatch && res.Action != ActionCreate {
				return fmt.Errorf("unknown action %q for %q", res.Action, res.Name)
			}
		}
		return nil
	},
	Schema: entityResolverSchema,
}
