package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dealerline/voiceagent/pkg/provider/llm"
)

// apologyUnavailable is spoken when the LLM cannot be reached at all, so the
// caller always hears something rather than dead air.
const apologyUnavailable = "Sorry, I'm having a little trouble right now. Could you say that again?"

// apologyEscalate is spoken when the tool recursion limit is hit, per
// spec.md §4.1.4's requirement to hand off rather than loop forever.
const apologyEscalate = "Let me get one of our team members to help you with that."

// runTurn drives one full conversational turn: append the caller's
// finalized utterance to history, then run the LLM generation and tool
// loop to completion (including any bounded tool-call recursion).
func (c *call) runTurn(ctx context.Context, userText string) {
	c.appendHistory(llm.Message{Role: "user", Content: userText})
	c.trimHistory(ctx)
	c.setState(StateIntentDetection)
	c.driveLLM(ctx, 0)
}

// driveLLM runs one generation round, speaking any assistant text through
// Egress and executing any requested tool calls. depth counts inline tool
// recursion within this turn; it is capped at ToolRecursionLimit.
func (c *call) driveLLM(ctx context.Context, depth int) {
	if depth > ToolRecursionLimit {
		c.log.Warn("driveLLM: tool recursion limit reached")
		c.speak(ctx, apologyEscalate)
		c.setState(StateEscalation)
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := llm.CompletionRequest{
		Messages:     c.snapshotHistory(),
		Tools:        c.deps.Tools.Definitions(),
		SystemPrompt: c.systemPrompt,
		Temperature:  0.3,
	}

	chunks, err := c.deps.LLM.StreamCompletion(turnCtx, req)
	if err != nil {
		c.log.Warn("driveLLM: stream completion failed to start", "error", err)
		c.recordProviderError("llm")
		c.speak(ctx, apologyUnavailable)
		return
	}

	textOut := make(chan string, 8)
	synthDone := make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(synthDone)
		c.runEgress(turnCtx, cancel, textOut)
	}()

	var assistantText strings.Builder
	var sentenceBuf strings.Builder
	var toolCalls []llm.ToolCall
	streamErr := false

	textClosed := false
	closeText := func() {
		if !textClosed {
			close(textOut)
			textClosed = true
		}
	}

loop:
	for {
		select {
		case <-turnCtx.Done():
			closeText()
			break loop
		case chunk, ok := <-chunks:
			if !ok {
				flushSentence(turnCtx, &sentenceBuf, textOut, true)
				closeText()
				break loop
			}
			if chunk.Text != "" {
				assistantText.WriteString(chunk.Text)
				sentenceBuf.WriteString(chunk.Text)
				if !flushSentence(turnCtx, &sentenceBuf, textOut, false) {
					closeText()
					break loop
				}
			}
			if len(chunk.ToolCalls) > 0 {
				toolCalls = append(toolCalls, chunk.ToolCalls...)
			}
			if chunk.FinishReason == "error" {
				streamErr = true
				flushSentence(turnCtx, &sentenceBuf, textOut, true)
				closeText()
				break loop
			}
		}
	}

	<-synthDone

	if streamErr {
		c.log.Warn("driveLLM: provider surfaced a stream error")
		c.recordProviderError("llm")
		if assistantText.Len() == 0 {
			c.speak(ctx, apologyUnavailable)
		}
		return
	}

	c.recordUsageFromText(req, assistantText.String())

	if len(toolCalls) > 0 {
		c.appendHistory(llm.Message{Role: "assistant", Content: assistantText.String(), ToolCalls: toolCalls})
		c.setState(StateExecution)
		for _, tc := range toolCalls {
			c.runToolCall(ctx, tc)
		}
		c.driveLLM(ctx, depth+1)
		return
	}

	if assistantText.Len() > 0 {
		c.appendHistory(llm.Message{Role: "assistant", Content: assistantText.String()})
	}
	c.setState(StateIdleListening)
}

// runToolCall executes one tool invocation via the shared registry and
// appends its result to history as a "tool" message keyed by the LLM's own
// call id, so the next request correlates response to request.
func (c *call) runToolCall(ctx context.Context, tc llm.ToolCall) {
	result, err := c.deps.Tools.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		c.log.Warn("tool call failed", "tool", tc.Name, "error", err)
		c.appendHistory(llm.Message{
			Role:       "tool",
			Content:    `{"success":false,"error":"internal_error"}`,
			ToolCallID: tc.ID,
		})
		c.recordToolCall(tc.Name, "error")
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(`{"success":false,"error":"encode_failed"}`)
	}
	c.appendHistory(llm.Message{
		Role:       "tool",
		Content:    string(payload),
		ToolCallID: tc.ID,
	})

	status := "ok"
	if !result.Success {
		status = "failed"
	}
	c.recordToolCall(tc.Name, status)
}

// speak runs a single fixed utterance through Egress outside the normal
// streaming-generation path, used for apology/escalation lines that aren't
// produced by the model.
func (c *call) speak(ctx context.Context, text string) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	textOut := make(chan string, 1)
	textOut <- text
	close(textOut)

	c.runEgress(turnCtx, cancel, textOut)
	c.appendHistory(llm.Message{Role: "assistant", Content: text})
}

// flushSentence repeatedly extracts complete sentences from buf and sends
// them on out, leaving any trailing partial sentence buffered. When flush
// is true, any remaining buffered text is sent as a final fragment even if
// it has no terminal punctuation. Returns false if ctx was cancelled before
// every extracted sentence could be delivered (Egress has already given up
// reading, e.g. due to a barge-in); callers must stop sending to out in
// that case rather than risk blocking forever.
func flushSentence(ctx context.Context, buf *strings.Builder, out chan<- string, flush bool) bool {
	for {
		s := buf.String()
		idx := firstSentenceBoundary(s, flush)
		if idx < 0 {
			return true
		}
		sentence := strings.TrimSpace(s[:idx])
		rest := strings.TrimLeft(s[idx:], " \t\n")
		buf.Reset()
		buf.WriteString(rest)
		if sentence != "" {
			select {
			case out <- sentence:
			case <-ctx.Done():
				return false
			}
		}
		if !flush {
			continue
		}
		if rest == "" {
			return true
		}
	}
}

func (c *call) recordUsageFromText(req llm.CompletionRequest, assistantText string) {
	promptTokens, err := c.deps.LLM.CountTokens(req.Messages)
	if err != nil {
		promptTokens = 0
	}
	completionTokens, err := c.deps.LLM.CountTokens([]llm.Message{{Role: "assistant", Content: assistantText}})
	if err != nil {
		completionTokens = 0
	}
	c.recordUsage(promptTokens, completionTokens)
}

func (c *call) recordProviderError(kind string) {
	if c.deps.Metrics == nil {
		return
	}
	c.deps.Metrics.RecordProviderError(context.Background(), "llm", kind)
}

func (c *call) recordToolCall(tool, status string) {
	if c.deps.Metrics == nil {
		return
	}
	c.deps.Metrics.RecordToolCall(context.Background(), tool, status)
}
