package orchestrator

import (
	"context"

	"github.com/dealerline/voiceagent/pkg/provider/llm"
)

// trimHistory enforces spec.md §4.4's `trim(max_messages=20, keep_system=true)`
// once a turn's user append pushes conversation history past
// MaxHistoryMessages. The system prompt itself is never part of c.history
// (it travels out of band as c.systemPrompt), so keep_system here means:
// never cut in a way that orphans a tool_call from its tool_result.
//
// The dropped prefix is condensed through c.deps.Summariser, if configured,
// and reintroduced as a single system-role note ahead of the retained
// suffix, so a long call doesn't lose earlier context (caller identity,
// vehicle, commitments already made) just because it scrolled out of the
// window. Summarisation failures are logged and treated as "drop silently"
// rather than blocking the turn — losing old context is recoverable, a
// stalled turn is not.
func (c *call) trimHistory(ctx context.Context) {
	c.mu.Lock()
	if len(c.history) <= MaxHistoryMessages {
		c.mu.Unlock()
		return
	}
	cut := len(c.history) - MaxHistoryMessages
	// Never start the kept suffix on a "tool" turn: that would leave its
	// tool_call (now in the dropped prefix) unmatched. Walk the cut point
	// back to the assistant turn that issued the call instead.
	for cut > 0 && c.history[cut].Role == "tool" {
		cut--
	}
	if cut <= 0 {
		c.mu.Unlock()
		return
	}
	dropped := make([]llm.Message, cut)
	copy(dropped, c.history[:cut])
	kept := make([]llm.Message, len(c.history)-cut)
	copy(kept, c.history[cut:])
	c.mu.Unlock()

	var summary string
	if c.deps.Summariser != nil {
		s, err := c.deps.Summariser.Summarise(ctx, dropped)
		if err != nil {
			c.log.Warn("trimHistory: summarisation failed, dropping oldest turns without a summary", "error", err)
		} else {
			summary = s
		}
	}

	newHistory := kept
	if summary != "" {
		note := llm.Message{Role: "system", Content: "Earlier in this call: " + summary}
		newHistory = append([]llm.Message{note}, kept...)
	}

	// trimHistory only ever runs synchronously from the single-threaded Turn
	// task (runTurn, before driveLLM starts), so nothing else appends to
	// c.history while we summarise outside the lock.
	c.mu.Lock()
	c.history = newHistory
	c.mu.Unlock()
}
