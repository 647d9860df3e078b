// Package anthropic provides an LLM provider backed by the Anthropic Claude
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dealerline/voiceagent/pkg/provider/llm"
	"github.com/dealerline/voiceagent/pkg/types"
)

// Provider implements llm.Provider using the Anthropic Messages API.
type Provider struct {
	client    sdk.Client
	model     string
	maxTokens int
}

// config holds optional configuration for the provider.
type config struct {
	baseURL   string
	timeout   time.Duration
	maxTokens int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default Anthropic API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxTokens sets the default completion token cap used when a
// CompletionRequest does not specify MaxTokens. The Messages API requires
// max_tokens on every request, unlike OpenAI's chat completions.
func WithMaxTokens(n int) Option {
	return func(c *config) {
		c.maxTokens = n
	}
}

// defaultMaxTokens is used when neither WithMaxTokens nor the request sets a
// cap, so StreamCompletion/Complete never send an invalid zero max_tokens.
const defaultMaxTokens = 1024

// New constructs a new Anthropic LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic: model must not be empty")
	}

	cfg := &config{maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := sdk.NewClient(reqOpts...)
	return &Provider{client: client, model: model, maxTokens: cfg.maxTokens}, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build params: %w", err)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		toolBlocks := map[int64]*types.ToolCall{}
		var stopReason string

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.ContentBlockStartEvent:
				if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
					toolBlocks[ev.Index] = &types.ToolCall{ID: tu.ID, Name: tu.Name}
				}
			case sdk.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text == "" {
						continue
					}
					select {
					case ch <- llm.Chunk{Text: delta.Text}:
					case <-ctx.Done():
						return
					}
				case sdk.InputJSONDelta:
					if delta.PartialJSON == "" {
						continue
					}
					if tb, ok := toolBlocks[ev.Index]; ok {
						tb.Arguments += delta.PartialJSON
					}
				}
			case sdk.MessageDeltaEvent:
				if ev.Delta.StopReason != "" {
					stopReason = string(ev.Delta.StopReason)
				}
			case sdk.MessageStopEvent:
				out := llm.Chunk{FinishReason: normalizeStopReason(stopReason)}
				lastIdx := int64(-1)
				for i := range toolBlocks {
					lastIdx = max(lastIdx, i)
				}
				for i := int64(0); i <= lastIdx; i++ {
					if tb, ok := toolBlocks[i]; ok {
						out.ToolCalls = append(out.ToolCalls, *tb)
					}
				}
				select {
				case ch <- out:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build params: %w", err)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: messages.new: %w", err)
	}

	result := &llm.CompletionResponse{
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				args = []byte("{}")
			}
			result.ToolCalls = append(result.ToolCalls, types.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(args),
			})
		}
	}
	return result, nil
}

// CountTokens implements llm.Provider.
// TODO: use the Messages API's count_tokens endpoint for an exact count.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		// ~4 chars per token is a rough Claude-series approximation.
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

// modelCapabilities returns ModelCapabilities for known Claude model names.
func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       200_000,
		MaxOutputTokens:     8_192,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "haiku"):
		caps.MaxOutputTokens = 8_192
	case strings.Contains(lower, "opus"):
		caps.MaxOutputTokens = 4_096
	case strings.Contains(lower, "sonnet"):
		caps.MaxOutputTokens = 8_192
	}
	return caps
}

// normalizeStopReason maps Anthropic's stop_reason vocabulary onto the
// FinishReason values the orchestrator understands from the OpenAI
// provider, so driveLLM doesn't need provider-specific branches.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

// buildParams converts a CompletionRequest into Anthropic SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (sdk.MessageNewParams, error) {
	messages, system, err := convertMessages(req.SystemPrompt, req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, convertTool(td))
	}
	return params, nil
}

// convertTool converts a types.ToolDefinition into an Anthropic tool param.
func convertTool(td types.ToolDefinition) sdk.ToolUnionParam {
	u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: td.Parameters}, td.Name)
	if u.OfTool != nil {
		u.OfTool.Description = sdk.String(td.Description)
	}
	return u
}

// convertMessages splits a system prompt plus history into Anthropic's
// separate system/conversation shape. Anthropic requires tool results to
// travel as a "user"-role message containing tool_result blocks, unlike
// OpenAI's dedicated "tool" role, so a "tool" entry in history becomes a
// user message here.
func convertMessages(systemPrompt string, history []types.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	var system []sdk.TextBlockParam
	if systemPrompt != "" {
		system = append(system, sdk.TextBlockParam{Text: systemPrompt})
	}

	conversation := make([]sdk.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case "system":
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}

		case "user":
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))

		case "assistant":
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						return nil, nil, fmt.Errorf("anthropic: decode tool call %q arguments: %w", tc.ID, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}

		case "tool":
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))

		default:
			return nil, nil, fmt.Errorf("anthropic: unknown message role %q", m.Role)
		}
	}
	return conversation, system, nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
