package out

import "context"

// LLMClient is the completion surface the classifier builds on.
type LLMClient interface {
	// CompleteJSON runs a completion constrained to a JSON object response.
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
