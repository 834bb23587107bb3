package services

import "context"

// CompletionClient is the boundary to the external completion provider. Its
// internal model routing and pricing are not our concern; we only require
// that rate limiting surfaces as *types.RateLimitError carrying the
// provider's retry-after, and malformed output as *types.ProviderError.
type CompletionClient interface {
	Provider() string
	Model() string

	// Generate returns free text for an interaction type and prompt.
	Generate(ctx context.Context, interactionType string, prompt string, contextData map[string]any) (string, error)

	// GenerateJSON returns schema-constrained structured output.
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
}
