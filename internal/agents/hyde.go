package agents

import (
	"fmt"
	"strings"
)

// HydeInput is the first retrieval pass's memory contents, used as grounding
// for hypothetical documents.
type HydeInput struct {
	Memories []string
}

// HydeDoc is one hypothetical memory.
type HydeDoc struct {
	Content string `json:"content"`
}

// HydeOutput groups hypothetical documents by intent: semantic variants of
// what is stored, and plausible state changes that would supersede it.
type HydeOutput struct {
	Semantic    []HydeDoc `json:"semantic"`
	StateChange []HydeDoc `json:"stateChange"`
}

// HydeTemperature is the sampling temperature for hypothetical document
// generation; higher than the extraction agents so variants actually vary.
const HydeTemperature = 0.7

const hydePrompt = `You write hypothetical memories to widen a search over a user's personal knowledge graph.

Given the user's existing memories, produce:
- semantic: 3 documents that restate or closely paraphrase facts from the input, phrased the way related stored memories might be phrased.
- stateChange: 3 documents describing plausible OPPOSITE or EVOLVED states of facts in the input (a job ended, a move happened, a project shipped, a preference reversed).

Rules:
- Every document must be grounded in the input memories; do not invent unrelated facts.
- Use USER as the subject, matching how memories are stored.
- One sentence each, concrete and specific.`

var hydeSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"semantic": map[string]any{
			"type":  "array",
			"items": hydeDocSchema,
		},
		"stateChange": map[string]any{
			"type":  "array",
			"items": hydeDocSchema,
		},
	},
	"required": []string{"semantic", "stateChange"},
}

var hydeDocSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"content": map[string]any{"type": "string"},
	},
	"required": []string{"content"},
}

// HydeAgent generates hypothetical documents for second-pass retrieval. Run
// it with WithTemperature(HydeTemperature).
var HydeAgent = Agent[HydeInput, HydeOutput]{
	Name:         "hyde",
	SystemPrompt: hydePrompt,
	FormatInput: func(in HydeInput) (string, error) {
		var b strings.Builder
		b.WriteString("Existing memories:\n")
		for i, m := range in.Memories {
			fmt.Fprintf(&b, "%d. %s\n", i+1, m)
		}
		return b.String(), nil
	},
	Schema: hydeSchema,
}
