package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	relay "github.com/nevindra/relay"
)

// Provider talks to an OpenAI-compatible chat completions endpoint.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string

	temperature *float64
	maxTokens   int
}

// Compile-time interface check.
var _ relay.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithName overrides the provider name reported by Name().
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient substitutes the HTTP client. For tests and proxies.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithTemperature sets the sampling temperature on every request.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = &t }
}

// WithMaxTokens caps the response length on every request.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// NewProvider creates a provider for the given API base (e.g.
// "https://api.openai.com/v1", "http://localhost:11434/v1"). The
// /chat/completions path is appended automatically.
func NewProvider(apiKey, model, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable).
func (p *Provider) Name() string { return p.name }

// Generate sends one non-streaming chat request.
func (p *Provider) Generate(ctx context.Context, req relay.ChatRequest) (relay.ChatResponse, error) {
	body := buildBody(req, p.model)
	body.Temperature = p.temperature
	body.MaxTokens = p.maxTokens

	payload, err := json.Marshal(body)
	if err != nil {
		return relay.ChatResponse{}, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return relay.ChatResponse{}, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return relay.ChatResponse{}, fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return relay.ChatResponse{}, fmt.Errorf("%s: status %d: %s", p.name, resp.StatusCode, msg)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return relay.ChatResponse{}, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	return parseResponse(decoded), nil
}

// buildBody converts relay messages and tools into the OpenAI wire shape.
func buildBody(req relay.ChatRequest, model string) chatRequest {
	msgs := make([]message, 0, len(req.Messages))
	for _, m := range req.Messages {
		out := message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, toolCall{
				ID:   tc.ID,
				Type: "function",
				Function: functionCall{
					Name:      tc.Name,
					Arguments: string(tc.Args),
				},
			})
		}
		msgs = append(msgs, out)
	}

	body := chatRequest{Model: model, Messages: msgs}
	for _, t := range req.Tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		body.Tools = append(body.Tools, toolDef{
			Type: "function",
			Function: function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return body
}

// parseResponse extracts content, tool calls, and usage from choices[0].
func parseResponse(resp chatResponse) relay.ChatResponse {
	var out relay.ChatResponse
	if resp.Usage != nil {
		out.Usage = relay.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return out
	}
	msg := resp.Choices[0].Message
	out.Content = msg.Content
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, relay.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
