package generation

import "github.com/piotroramus/10x-cards-sub000/internal/llm"

// systemInstruction fixes the output contract for every generation
// call. The length bounds and the cap repeat the filter in
// parseProposals so a cooperative model never loses candidates to it.
const systemInstruction = `You write flashcards from source text supplied by the user.

Rules:
- Produce at most 5 flashcards covering the most important facts.
- "front" is a question or cue of at most 200 characters.
- "back" is the answer of at most 500 characters.
- Each flashcard must stand on its own; do not repeat facts.
- Write in the language of the source text.
- Respond with a single JSON object of the form
  {"flashcards": [{"front": "...", "back": "..."}]}
  and nothing else.`

// schemaName is the identifier sent with the structured-output request.
const schemaName = "flashcards"

func (s *Service) buildRequest(sourceText string) llm.CompletionRequest {
	return llm.CompletionRequest{
		Model: s.opts.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemInstruction},
			{Role: llm.RoleUser, Content: sourceText},
		},
		ResponseFormat: &llm.ResponseFormat{
			Type:       llm.FormatJSONSchema,
			JSONSchema: proposalsSchema(),
		},
	}
}

// proposalsSchema is the strict contract enforced upstream. Only the
// top level is checked again client-side; nested shapes are the
// upstream's job.
func proposalsSchema() *llm.JSONSchema {
	return &llm.JSONSchema{
		Name:   schemaName,
		Strict: true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"flashcards": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"front": map[string]any{"type": "string"},
							"back":  map[string]any{"type": "string"},
						},
						"required":             []string{"front", "back"},
						"additionalProperties": false,
					},
				},
			},
			"required":             []string{"flashcards"},
			"additionalProperties": false,
		},
	}
}
