package orchestrator

import (
	"context"
	"strings"

	"github.com/dealerline/voiceagent/pkg/provider/stt"
)

// turnLoop is the Turn subtask: it accumulates finalized transcript
// fragments into one caller utterance, detects barge-in from interim
// transcripts, and drives a full LLM turn once an utterance is complete.
//
// An utterance is considered complete either when a final transcript
// arrives with SpeechFinal set, or when an UtteranceEnd signal arrives
// while buffered text is non-empty — matching spec.md §4.1.3's
// accumulation rule.
//
// Driving a turn (driveLLM's LLM generation plus the per-turn Egress
// subtask) runs in its own goroutine rather than inline on this loop, so
// this select keeps reading transcripts — and so keeps watching for a
// barge-in interim — for the whole time the assistant is speaking. Only one
// turn is ever in flight: starting the next one first waits for the
// previous turn's goroutine to finish, preserving the one-assistant-turn-
// per-utterance history ordering from spec.md §8 property 1.
func (c *call) turnLoop(ctx context.Context, transcripts <-chan stt.Transcript, utteranceEnds <-chan struct{}) {
	var buf strings.Builder

	var turnDone chan struct{}
	var turnCancel context.CancelFunc

	// awaitTurn blocks until the in-flight turn goroutine, if any, has
	// exited, without disturbing it.
	awaitTurn := func() {
		if turnDone != nil {
			<-turnDone
			turnDone = nil
			turnCancel = nil
		}
	}

	// abortTurn cancels the in-flight turn's own context (independent of
	// barge-in's egressCancel, which may not be armed yet if playback
	// hasn't started) and waits for it to unwind. Used on every turnLoop
	// exit path so a call teardown never leaves a turn goroutine running
	// past this function's return.
	abortTurn := func() {
		if turnCancel != nil {
			turnCancel()
		}
		awaitTurn()
	}

	// startTurn waits for any previous turn to finish, then launches the
	// new one concurrently so turnLoop's select keeps servicing transcripts
	// (and therefore barge-in) while it runs.
	startTurn := func(text string) {
		awaitTurn()
		turnCtx, cancel := context.WithCancel(ctx)
		turnCancel = cancel
		done := make(chan struct{})
		turnDone = done
		go func() {
			defer cancel()
			defer close(done)
			c.runTurn(turnCtx, text)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			abortTurn()
			return
		case <-c.done:
			abortTurn()
			return
		case t, ok := <-transcripts:
			if !ok {
				abortTurn()
				return
			}
			if !t.IsFinal {
				if strings.TrimSpace(t.Text) != "" && c.isSpeaking() {
					c.bargeIn(ctx)
				}
				continue
			}

			appendFragment(&buf, t.Text)
			if t.SpeechFinal {
				if text := takeBuffered(&buf); text != "" {
					startTurn(text)
				}
			}
		case _, ok := <-utteranceEnds:
			if !ok {
				abortTurn()
				return
			}
			if text := takeBuffered(&buf); text != "" {
				startTurn(text)
			}
		}
	}
}

// appendFragment appends a transcript fragment to buf, separating
// consecutive fragments with a single space.
func appendFragment(buf *strings.Builder, fragment string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}
	if buf.Len() > 0 {
		buf.WriteByte(' ')
	}
	buf.WriteString(fragment)
}

// takeBuffered returns the currently buffered utterance text, trimmed, and
// resets buf for the next one.
func takeBuffered(buf *strings.Builder) string {
	text := strings.TrimSpace(buf.String())
	buf.Reset()
	return text
}
