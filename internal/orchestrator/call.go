package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dealerline/voiceagent/internal/repo"
	"github.com/dealerline/voiceagent/internal/telephony"
	"github.com/dealerline/voiceagent/pkg/provider/llm"
	"github.com/dealerline/voiceagent/pkg/provider/stt"
	"github.com/dealerline/voiceagent/pkg/provider/tts"
)

// TurnState is the advisory turn state machine surfaced to the LLM via
// system-prompt context and recorded in the Session Record. It never
// hard-wires control flow to a specific state.
type TurnState string

const (
	StateGreeting        TurnState = "greeting"
	StateIntentDetection TurnState = "intent_detection"
	StateSlotCollection  TurnState = "slot_collection"
	StateExecution       TurnState = "execution"
	StateConfirmation    TurnState = "confirmation"
	StateClosing         TurnState = "closing"
	StateIdleListening   TurnState = "idle_listening"
	StateEscalation      TurnState = "escalation"
)

// call holds all per-call mutable state. It is constructed once per
// [Orchestrator.HandleConn] invocation and never shared across calls.
type call struct {
	deps Dependencies

	telephony *telephony.Conn
	callSID   string
	streamSID string
	direction repo.CallDirection

	sttSession stt.SessionHandle
	systemPrompt string

	// mu guards every field below. Per spec.md §5, holding this lock across
	// a suspension point (network I/O) is forbidden; every method that needs
	// to perform I/O snapshots the relevant fields, unlocks, then acts.
	mu               sync.Mutex
	history          []llm.Message
	state            TurnState
	speaking         bool
	egressCancel     context.CancelFunc
	currentSynth     tts.SynthesisHandle
	promptTokens     int
	completionTokens int

	// wg tracks the Egress subtask and any other background goroutine
	// spawned for the lifetime of the call, so teardown can wait for them
	// to exit before closing the clients they depend on.
	wg sync.WaitGroup

	// done is closed exactly once to signal every cooperating task
	// (Ingress, Turn) to stop.
	done     chan struct{}
	closeOnce sync.Once

	log *slog.Logger
}

func (c *call) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// setState updates the advisory turn state. Analytical only; never gates
// control flow.
func (c *call) setState(s TurnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// appendHistory appends msg to the rolling conversation history.
func (c *call) appendHistory(msg llm.Message) {
	c.mu.Lock()
	c.history = append(c.history, msg)
	c.mu.Unlock()
}

// snapshotHistory returns a copy of the current history, safe to read
// outside the lock.
func (c *call) snapshotHistory() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Message, len(c.history))
	copy(out, c.history)
	return out
}

// startSpeaking marks the call as playing audio and records the egress
// subtask's cancel function and the synthesis handle it's draining, so a
// barge-in can reach both.
func (c *call) startSpeaking(cancel context.CancelFunc, synth tts.SynthesisHandle) {
	c.mu.Lock()
	c.speaking = true
	c.egressCancel = cancel
	c.currentSynth = synth
	c.mu.Unlock()
}

// stopSpeaking clears the speaking flag. Called both by the Egress subtask
// on normal exit and by bargeIn.
func (c *call) stopSpeaking() {
	c.mu.Lock()
	c.speaking = false
	c.egressCancel = nil
	c.currentSynth = nil
	c.mu.Unlock()
}

// isSpeaking reports whether the call is currently playing audio.
func (c *call) isSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// bargeIn performs the barge-in side effects required by spec.md §4.1.3,
// items (a)-(d), and guarantees they complete before returning so the
// caller can safely append the next user turn to history immediately
// afterward.
func (c *call) bargeIn(ctx context.Context) {
	c.mu.Lock()
	if !c.speaking {
		c.mu.Unlock()
		return
	}
	cancel := c.egressCancel
	synth := c.currentSynth
	streamSID := c.streamSID
	c.speaking = false
	c.egressCancel = nil
	c.currentSynth = nil
	c.mu.Unlock()

	// (a) drop already-buffered outbound audio at the telephony bridge.
	if err := c.telephony.WriteClear(ctx, streamSID); err != nil {
		c.log.Warn("barge-in: telephony clear failed", "error", err)
	}
	// (b) cancel pending synthesis; (c) draining its queue is Close's job.
	if synth != nil {
		if err := synth.Close(); err != nil {
			c.log.Warn("barge-in: tts clear failed", "error", err)
		}
	}
	// (d) abort the current Egress subtask and LLM generation.
	if cancel != nil {
		cancel()
	}
}

func (c *call) recordUsage(prompt, completion int) {
	c.mu.Lock()
	c.promptTokens += prompt
	c.completionTokens += completion
	c.mu.Unlock()
}

func (c *call) usage() (prompt, completion int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.promptTokens, c.completionTokens
}

// run drives the call's cooperating tasks until a terminal condition is
// reached, then performs ordered teardown per spec.md §4.1.6: close STT,
// close TTS (nothing persistent to close — handles are per-utterance),
// close LLM (stateless, nothing to close), close the relational session
// (persist final state).
func (c *call) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	transcripts := make(chan stt.Transcript, 64)
	utteranceEnds := make(chan struct{}, 4)

	var ingressWG sync.WaitGroup
	ingressWG.Add(1)
	go func() {
		defer ingressWG.Done()
		c.ingress(ctx)
	}()

	var fanWG sync.WaitGroup
	fanWG.Add(1)
	go func() {
		defer fanWG.Done()
		c.fanInTranscripts(ctx, transcripts, utteranceEnds)
	}()

	c.turnLoop(ctx, transcripts, utteranceEnds)

	cancel()
	ingressWG.Wait()
	fanWG.Wait()
	c.wg.Wait()

	c.teardown(context.Background())
}

// fanInTranscripts merges Partials and Finals into one ordered channel, per
// the STT session's channel-closed-at-session-end contract, and forwards
// UtteranceEnds separately. It exits when both source channels are closed
// or ctx is cancelled.
func (c *call) fanInTranscripts(ctx context.Context, out chan<- stt.Transcript, endOut chan<- struct{}) {
	defer close(out)
	defer close(endOut)

	partials := c.sttSession.Partials()
	finals := c.sttSession.Finals()
	ends := c.sttSession.UtteranceEnds()

	for partials != nil || finals != nil || ends != nil {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		case _, ok := <-ends:
			if !ok {
				ends = nil
				continue
			}
			select {
			case endOut <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *call) teardown(ctx context.Context) {
	if c.sttSession != nil {
		if err := c.sttSession.Close(); err != nil {
			c.log.Warn("teardown: stt close failed", "error", err)
		}
	}
	// TTS synthesis handles are per-utterance and already closed by the
	// Egress subtask that owned them; the Provider itself holds no
	// per-call resource to release.

	if err := c.deps.Session.DeleteSession(ctx, c.callSID); err != nil {
		c.log.Warn("teardown: delete session record failed", "error", err)
	}

	history := c.snapshotHistory()
	transcript := renderTranscript(history)
	promptTokens, completionTokens := c.usage()
	outcome := string(c.state)
	if err := c.deps.CallLogs.Finish(ctx, c.callSID, transcript, outcome, promptTokens, completionTokens); err != nil {
		c.log.Warn("teardown: finish call log failed", "error", err)
	}

	if err := c.telephony.Close(); err != nil {
		c.log.Warn("teardown: telephony close failed", "error", err)
	}
}

// renderTranscript renders the full conversation history into a flat,
// human-readable transcript for the call log's full-text-searchable column.
func renderTranscript(history []llm.Message) string {
	var out []byte
	for _, m := range history {
		if m.Role == "tool" {
			continue
		}
		out = append(out, '[')
		out = append(out, m.Role...)
		out = append(out, "]: "...)
		out = append(out, m.Content...)
		out = append(out, '\n')
	}
	return string(out)
}
