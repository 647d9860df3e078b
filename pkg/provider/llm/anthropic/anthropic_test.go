package anthropic

import (
	"testing"

	"github.com/dealerline/voiceagent/pkg/types"
)

// TestConvertMessages_SystemPromptAndHistory checks that the system prompt
// and any "system"-role history entries are both routed to the system
// blocks, separate from the conversation.
func TestConvertMessages_SystemPromptAndHistory(t *testing.T) {
	history := []types.Message{
		{Role: "system", Content: "Earlier in this call: caller is a returning customer."},
		{Role: "user", Content: "Hello!"},
	}
	conversation, system, err := convertMessages("You are helpful.", history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(system) != 2 {
		t.Fatalf("expected 2 system blocks, got %d", len(system))
	}
	if len(conversation) != 1 {
		t.Fatalf("expected 1 conversation message, got %d", len(conversation))
	}
	if conversation[0].OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}
}

// TestConvertMessages_AssistantWithToolCalls checks tool call conversion
// into tool_use content blocks.
func TestConvertMessages_AssistantWithToolCalls(t *testing.T) {
	history := []types.Message{
		{
			Role: "assistant",
			ToolCalls: []types.ToolCall{
				{ID: "call_1", Name: "get_available_slots", Arguments: `{"date":"2026-08-01"}`},
			},
		},
	}
	conversation, _, err := convertMessages("", history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conversation) != 1 {
		t.Fatalf("expected 1 conversation message, got %d", len(conversation))
	}
	if conversation[0].OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}
}

// TestConvertMessages_ToolResultBecomesUserMessage checks that a "tool" role
// history entry is translated into a user message carrying a tool_result
// block, per Anthropic's Messages API shape.
func TestConvertMessages_ToolResultBecomesUserMessage(t *testing.T) {
	history := []types.Message{
		{Role: "tool", Content: `{"success":true}`, ToolCallID: "call_1"},
	}
	conversation, _, err := convertMessages("", history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conversation) != 1 {
		t.Fatalf("expected 1 conversation message, got %d", len(conversation))
	}
	if conversation[0].OfUser == nil {
		t.Fatal("expected a tool result to be encoded as a user message")
	}
}

// TestConvertMessages_UnknownRole checks that unknown roles return an error.
func TestConvertMessages_UnknownRole(t *testing.T) {
	_, _, err := convertMessages("", []types.Message{{Role: "unknown", Content: "test"}})
	if err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
}

// TestConvertMessages_InvalidToolArguments checks that malformed tool call
// arguments surface as an error rather than being silently dropped.
func TestConvertMessages_InvalidToolArguments(t *testing.T) {
	history := []types.Message{
		{
			Role: "assistant",
			ToolCalls: []types.ToolCall{
				{ID: "call_1", Name: "bad_tool", Arguments: `not-json`},
			},
		},
	}
	_, _, err := convertMessages("", history)
	if err == nil {
		t.Fatal("expected error for malformed tool call arguments")
	}
}

// TestNormalizeStopReason checks the Anthropic-to-orchestrator FinishReason
// mapping.
func TestNormalizeStopReason(t *testing.T) {
	cases := map[string]string{
		"end_turn":      "stop",
		"stop_sequence": "stop",
		"tool_use":      "tool_calls",
		"max_tokens":    "length",
		"":              "",
	}
	for in, want := range cases {
		if got := normalizeStopReason(in); got != want {
			t.Errorf("normalizeStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestModelCapabilities_Sonnet checks a Claude Sonnet model's capabilities.
func TestModelCapabilities_Sonnet(t *testing.T) {
	caps := modelCapabilities("claude-sonnet-4-5")
	if caps.ContextWindow != 200_000 {
		t.Errorf("expected context window 200000, got %d", caps.ContextWindow)
	}
	if !caps.SupportsToolCalling {
		t.Error("expected SupportsToolCalling=true")
	}
	if !caps.SupportsStreaming {
		t.Error("expected SupportsStreaming=true")
	}
}

// TestModelCapabilities_UnknownModel checks defaults for unrecognised models.
func TestModelCapabilities_UnknownModel(t *testing.T) {
	caps := modelCapabilities("my-custom-model")
	if caps.ContextWindow <= 0 {
		t.Error("unknown model: expected positive ContextWindow")
	}
	if caps.MaxOutputTokens <= 0 {
		t.Error("unknown model: expected positive MaxOutputTokens")
	}
}

// TestCountTokens_Estimation checks that token counting returns a reasonable
// value.
func TestCountTokens_Estimation(t *testing.T) {
	p := &Provider{model: "claude-sonnet-4-5"}
	msgs := []types.Message{
		{Role: "user", Content: "Hello world"},
	}
	count, err := p.CountTokens(msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count <= 0 {
		t.Errorf("expected positive token count, got %d", count)
	}
}

// TestNew_MissingAPIKey ensures constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New("", "claude-sonnet-4-5")
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_MissingModel ensures constructor rejects an empty model.
func TestNew_MissingModel(t *testing.T) {
	_, err := New("sk-ant-test", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_Options checks that optional settings are accepted without error.
func TestNew_Options(t *testing.T) {
	_, err := New("sk-ant-test", "claude-sonnet-4-5",
		WithBaseURL("https://custom.example.com"),
		WithMaxTokens(2048),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
}
