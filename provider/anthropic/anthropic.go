// Package anthropic implements relay.Provider on the official Anthropic SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	relay "github.com/nevindra/relay"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

const defaultMaxTokens = 8192

// Provider wraps the Anthropic Messages API.
type Provider struct {
	client    *sdk.Client
	model     string
	maxTokens int64
}

// Compile-time interface check.
var _ relay.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the model for every request.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = int64(n) }
}

// WithBaseURL points the client at a different endpoint. For tests and
// proxies.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		client := sdk.NewClient(option.WithBaseURL(url))
		p.client = &client
	}
}

// New creates a provider with the given API key.
func New(apiKey string, opts ...Option) *Provider {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	p := &Provider{
		client:    &client,
		model:     DefaultModel,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "anthropic".
func (p *Provider) Name() string { return "anthropic" }

// Generate sends one non-streaming Messages request.
func (p *Provider) Generate(ctx context.Context, req relay.ChatRequest) (relay.ChatResponse, error) {
	msgs, system := convertMessages(req.Messages)
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return relay.ChatResponse{}, fmt.Errorf("anthropic: %w", err)
	}

	out := relay.ChatResponse{
		Usage: relay.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, relay.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: json.RawMessage(block.Input),
			})
		}
	}
	return out, nil
}

// convertMessages maps relay messages onto the Anthropic wire shape. System
// messages become system text blocks; tool results become user messages
// with tool_result blocks. Empty text blocks are skipped, the API rejects
// them.
func convertMessages(messages []relay.ChatMessage) ([]sdk.MessageParam, []sdk.TextBlockParam) {
	var out []sdk.MessageParam
	var system []sdk.TextBlockParam

	for _, m := range messages {
		switch {
		case m.Role == "system":
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				_ = json.Unmarshal(tc.Args, &input)
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, sdk.MessageParam{
				Role:    sdk.MessageParamRoleAssistant,
				Content: blocks,
			})
		case m.Role == "assistant":
			if m.Content != "" {
				out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
			}
		case m.Role == "tool":
			out = append(out, sdk.MessageParam{
				Role: sdk.MessageParamRoleUser,
				Content: []sdk.ContentBlockParamUnion{
					sdk.NewToolResultBlock(m.ToolCallID, m.Content, false),
				},
			})
		default:
			if m.Content != "" {
				out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
			}
		}
	}
	return out, system
}

// convertTools maps tool definitions onto Anthropic tool params.
func convertTools(tools []relay.ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &schema)
		}
		var required []string
		if req, ok := schema["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
		out = append(out, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				InputSchema: sdk.ToolInputSchemaParam{
					Properties: schema["properties"],
					Required:   required,
				},
			},
		})
	}
	return out
}
