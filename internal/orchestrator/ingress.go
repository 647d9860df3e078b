package orchestrator

import (
	"context"

	"github.com/dealerline/voiceagent/internal/telephony"
)

// ingress reads telephony frames for the lifetime of the call, forwarding
// caller audio to the STT session. It returns once the remote end sends a
// `stop` frame, the socket errors, or ctx is cancelled, signaling every
// other cooperating task to stop via c.stop.
func (c *call) ingress(ctx context.Context) {
	defer c.stop()

	for {
		ev, err := c.telephony.ReadEvent(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Info("ingress: connection ended", "error", err)
			}
			return
		}

		switch ev.Type {
		case telephony.EventMedia:
			if len(ev.Payload) == 0 {
				continue
			}
			if err := c.sttSession.SendAudio(ev.Payload); err != nil {
				c.log.Warn("ingress: send audio failed", "error", err)
			}
		case telephony.EventMark:
			// The bridge echoing a mark confirms playback reached that
			// point. Nothing downstream currently keys off this.
		case telephony.EventStop:
			return
		}
	}
}
