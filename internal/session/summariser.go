// Package session provides conversation-history management for in-progress
// calls: summarisation of older turns so a long call stays within the LLM's
// context budget ([Summariser], [LLMSummariser]).
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/dealerline/voiceagent/pkg/provider/llm"
)

// summarisationPrompt is the system prompt sent to the LLM when condensing
// older turns of a dealership service call.
const summarisationPrompt = `Summarise the following portion of a phone call between an automotive dealership's voice agent and a caller.
Preserve: the caller's identity and vehicle details if mentioned, the intent of the call, any
appointment times discussed or booked, and any commitments made by the agent.
Be concise but keep every detail that would matter if the conversation continued later.`

// Summariser produces a concise summary of a conversation segment.
type Summariser interface {
	// Summarise takes a slice of messages and returns a condensed summary string.
	Summarise(ctx context.Context, messages []llm.Message) (string, error)
}

// LLMSummariser uses an LLM provider to summarise conversations.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise sends messages to the LLM with a summarisation prompt and returns
// the summary text. It formats the conversation history into a single user
// message and asks the model to produce a concise summary.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	speaker := func(role string) string {
		switch role {
		case "assistant":
			return "agent"
		case "user":
			return "caller"
		default:
			return role
		}
	}

	var sb strings.Builder
	for _, m := range messages {
		if m.Role == "tool" {
			continue
		}
		fmt.Fprintf(&sb, "[%s]: %s\n", speaker(m.Role), m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages: []llm.Message{
			{
				Role:    "user",
				Content: sb.String(),
			},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}

	return resp.Content, nil
}
