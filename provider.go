package relay

import "context"

// Provider abstracts the LLM backend behind a single Generate capability.
// A response with no tool calls is a final answer; a response containing
// tool calls asks the loop to execute them and feed results back.
type Provider interface {
	// Generate sends the conversation (with tool definitions, if any) and
	// returns a complete response.
	Generate(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "anthropic", "openaicompat").
	Name() string
}
