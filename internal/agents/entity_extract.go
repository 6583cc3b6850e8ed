package agents

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/memento/internal/model"
)

// EntityExtractInput is the note to mine for entities. KnownUserName, when
// set, tells the agent which name refers to the user so it is never extracted
// as a Person.
type EntityExtractInput struct {
	NoteContent   string
	KnownUserName string
}

// ExtractedEntity is one entity the agent found in the note.
type ExtractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	IsWellKnown bool   `json:"isWellKnown"`
}

// EntityExtractOutput carries the extracted entities plus any biographical
// facts about the user themselves (role, affiliation, location, expertise).
type EntityExtractOutput struct {
	Entities              []ExtractedEntity `json:"entities"`
	UserBiographicalFacts *string           `json:"userBiographicalFacts"`
}

const entityExtractPrompt = `You extract entities from a user's note for a personal knowledge graph.

Extract every distinct entity the note mentions. For each entity provide:
- name: the canonical name as written in the note
- type: exactly one of Person, Organization, Project, Technology, Location, Event, Concept
- description: a short factual, dictionary-style description of what the entity is. Never include opinions, the user's feelings, or anything time-bound.
- isWellKnown: true only for globally famous entities (major companies, famous people, widely used technologies, major cities) whose meaning needs no stored description.

Rules:
- NEVER extract the user themselves as an entity. The note is written by or about the user; first-person references ("I", "me", "my") and the user's own name, if given, are not entities.
- Do not invent entities that are not in the note.
- Use the most specific applicable type. A programming language or tool is Technology; an abstract topic is Concept.

Separately, if the note states biographical facts about the user — their role, employer, affiliation, location, or area of expertise — summarize those facts in userBiographicalFacts. Preferences, opinions, and transient states (moods, current tasks) are NOT biographical facts. If there are none, set userBiographicalFacts to null.`

var entityExtractSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"entities": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"name":        map[string]any{"type": "string"},
					"type":        map[string]any{"type": "string", "enum": []string{"Person", "Organization", "Project", "Technology", "Location", "Event", "Concept"}},
					"description": map[string]any{"type": "string"},
					"isWellKnown": map[string]any{"type": "boolean"},
				},
				"required": []string{"name", "type", "description", "isWellKnown"},
			},
		},
		"userBiographicalFacts": map[string]any{"type": []string{"string", "null"}},
	},
	"required": []string{"entities", "userBiographicalFacts"},
}

// EntityExtractAgent mines a note for entities and user biographical facts.
var EntityExtractAgent = Agent[EntityExtractInput, EntityExtractOutput]{
	Name:         "entity_extract",
	SystemPrompt: entityExtractPrompt,
	FormatInput: func(in EntityExtractInput) (string, error) {
		var b strings.Builder
		if in.KnownUserName != "" {
			fmt.Fprintf(&b, "The user's name is %q. Do not extract them as an entity.\n\n", in.KnownUserName)
		}
		b.WriteString("Note:\n")
		b.WriteString(in.NoteContent)
		return b.String(), nil
	},
	Validate: func(_ EntityExtractInput, out EntityExtractOutput) error {
		for _, e := range out.Entities {
			if strings.TrimSpace(e.Name) == "" {
				return fmt.Errorf("entity with empty name")
			}
			if !model.ValidEntityType(model.EntityType(e.Type)) {
				return fmt.Errorf("unknown entity type %q for %q", e.Type, e.Name)
			}
		}
		return nil
	},
	Schema: entityExtractSchema,
}
