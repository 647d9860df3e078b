// Package orchestrator implements the Call Orchestrator: the component that
// owns one telephony call end to end, driving STT, the LLM tool-calling
// loop, and TTS, and enforcing turn ordering and barge-in.
//
// It is grounded on the teacher's internal/agent/orchestrator (lock-guarded
// mutable state, snapshot-then-unlock-before-IO) and internal/engine/cascade
// (sentence-boundary TTS streaming, cancellation-safe background goroutines
// with explicit drain-on-early-exit). Unlike the teacher's Orchestrator,
// which routes utterances across many concurrently active NPCs sharing one
// session, this Orchestrator manages exactly one call per [Orchestrator.HandleConn]
// invocation; the concurrency here is between that call's own cooperating
// tasks (Ingress, Turn, Egress), not between peers.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/dealerline/voiceagent/internal/observe"
	"github.com/dealerline/voiceagent/internal/repo"
	"github.com/dealerline/voiceagent/internal/session"
	"github.com/dealerline/voiceagent/internal/sessionstore"
	"github.com/dealerline/voiceagent/internal/telephony"
	"github.com/dealerline/voiceagent/internal/tools"
	"github.com/dealerline/voiceagent/pkg/provider/llm"
	"github.com/dealerline/voiceagent/pkg/provider/stt"
	"github.com/dealerline/voiceagent/pkg/provider/tts"
)

// ToolRecursionLimit bounds the inline tool-call recursion depth within a
// single turn.
const ToolRecursionLimit = 5

// MaxHistoryMessages is the conversation-history trim threshold from
// spec.md §4.4's `trim(max_messages=20, keep_system=true)`. The system
// prompt is carried out of band (Dependencies.Persona / call.systemPrompt),
// so "keep_system" here reduces to never splitting a tool_call from its
// tool_result when the trim point falls inside that pair.
const MaxHistoryMessages = 20

// Dependencies are the collaborators shared by every call this Orchestrator
// handles. Every field is required except Summariser and Metrics, which may
// be nil.
type Dependencies struct {
	STT       stt.Provider
	STTConfig stt.StreamConfig
	TTS       tts.Provider
	Voice     tts.VoiceProfile
	LLM       llm.Provider
	Tools     *tools.Registry

	Session      *sessionstore.Store
	Customers    *repo.CustomerStore
	Appointments *repo.AppointmentStore
	CallLogs     *repo.CallLogStore

	// Summariser condenses the oldest turns of a long call's history when it
	// grows past MaxHistoryMessages, per spec.md §4.4's trim operation. If
	// nil, trimming falls back to dropping the oldest turns without a
	// summary (see trimHistory in history.go).
	Summariser session.Summariser

	Metrics *observe.Metrics

	// Persona is the base system-prompt text, composed per call with
	// call-type-specific context (see session_init.go).
	Persona string
}

// Orchestrator owns the shared, long-lived collaborators used to handle
// every call. [Orchestrator.HandleConn] is safe to invoke concurrently for
// independent calls: they share no mutable state besides the collaborators
// themselves (provider clients, connection pools), matching the
// one-task-set-per-call concurrency model.
type Orchestrator struct {
	deps Dependencies
}

// New constructs an Orchestrator over deps.
func New(deps Dependencies) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// HandleConn drives one call end to end over conn: session initialization,
// the Ingress/Turn cooperating tasks, and ordered teardown. It blocks until
// the call ends (telephony close, fatal error, or ctx cancellation).
//
// A non-nil error here means the call never got past initialization (no
// `start` frame arrived, or STT/TTS failed to connect after retries); a call
// that starts and later ends for any reason, including a mid-call failure,
// is reported through logging and the persisted CallLog, not through this
// return value.
func (o *Orchestrator) HandleConn(ctx context.Context, conn *telephony.Conn) error {
	start, err := awaitStart(ctx, conn)
	if err != nil {
		return fmt.Errorf("orchestrator: awaiting start frame: %w", err)
	}

	c, err := o.initCall(ctx, conn, start)
	if err != nil {
		_ = conn.WriteClear(ctx, start.StreamSID)
		return fmt.Errorf("orchestrator: session init: %w", err)
	}

	c.run(ctx)
	return nil
}

// awaitStart blocks until the telephony socket's first `start` frame
// arrives, ignoring any other frame type that might precede it.
func awaitStart(ctx context.Context, conn *telephony.Conn) (telephony.InboundEvent, error) {
	for {
		ev, err := conn.ReadEvent(ctx)
		if err != nil {
			return telephony.InboundEvent{}, err
		}
		if ev.Type == telephony.EventStart {
			return ev, nil
		}
	}
}
