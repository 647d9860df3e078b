package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/dealerline/voiceagent/pkg/audio"
)

// firstSentenceBoundary returns the index just past the first `.`, `!`, or
// `?` in s that is followed by whitespace (or end of string, when flush is
// true), or -1 if no boundary is found yet. Mirrors the teacher's
// cascade engine's incremental sentence-splitting logic, adapted so the
// caller decides whether end-of-string counts as a boundary (it does only
// once the LLM has signaled there is no more text coming).
func firstSentenceBoundary(s string, flush bool) int {
	for i, r := range s {
		switch r {
		case '.', '!', '?':
			if i+1 >= len(s) {
				if flush {
					return i + 1
				}
				return -1
			}
			switch s[i+1] {
			case ' ', '\n', '\t':
				return i + 1
			}
		}
	}
	if flush && len(s) > 0 {
		return len(s)
	}
	return -1
}

// runEgress opens one TTS synthesis stream for the turn, feeds it sentences
// read from text, and pumps synthesized audio to the telephony connection
// as it arrives. cancel is stashed via startSpeaking so a barge-in detected
// on the Ingress/Turn side can abort this turn's generation and playback.
//
// runEgress returns once text is closed and fully drained, audio playback
// finishes, or ctx is cancelled (barge-in or call teardown).
func (c *call) runEgress(ctx context.Context, cancel context.CancelFunc, text <-chan string) {
	handle, err := c.deps.TTS.SynthesizeStream(ctx, text, c.deps.Voice)
	if err != nil {
		c.log.Warn("egress: synthesize stream failed to start", "error", err)
		// Drain text so the producer (driveLLM) never blocks on a send.
		audio.Drain(text)
		return
	}

	c.startSpeaking(cancel, handle)
	defer c.stopSpeaking()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-handle.Audio():
			if !ok {
				if err := c.telephony.WriteMark(ctx, c.streamSID, uuid.NewString()); err != nil {
					c.log.Warn("egress: write mark failed", "error", err)
				}
				return
			}
			if err := c.telephony.WriteMedia(ctx, c.streamSID, chunk); err != nil {
				c.log.Warn("egress: write media failed", "error", err)
				return
			}
		}
	}
}
