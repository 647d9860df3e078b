// Package telephony implements the duplex WebSocket boundary the
// Orchestrator owns: the `/media-stream` connection a telephony provider
// opens after its bootstrap webhook returns markup (that webhook itself is
// out of scope). It mirrors the shape of the STT/TTS socket clients in
// pkg/provider/stt/deepgram and pkg/provider/tts/elevenlabs — dial/accept,
// a read loop, a write method per outbound frame type — but on the server
// side of the connection instead of the client side.
package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// Event names for the inbound/outbound JSON frames, matching the wire
// protocol's closed set. Exported so callers (the Orchestrator's Ingress
// task) can switch on [InboundEvent.Type] without duplicating string
// literals.
const (
	EventStart = "start"
	EventMedia = "media"
	EventMark  = "mark"
	EventStop  = "stop"
	EventClear = "clear"
)

// InboundEvent is one decoded frame received from the telephony provider.
// Only the fields relevant to Type are populated.
type InboundEvent struct {
	Type string

	// Populated when Type == "start".
	CallSID         string
	StreamSID       string
	CallerPhone     string
	CustomParameters map[string]string

	// Populated when Type == "media". Payload is already base64-decoded
	// raw mu-law audio.
	Payload []byte

	// Populated when Type == "mark".
	MarkName string
}

// wireFrame is the on-the-wire shape for every inbound event. Each event
// type only populates its own nested object; the others are zero.
type wireFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`
	Start     *struct {
		CallSID          string            `json:"callSid"`
		StreamSID        string            `json:"streamSid"`
		From             string            `json:"from,omitempty"`
		CustomParameters map[string]string `json:"customParameters,omitempty"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

// ErrClosed is returned by ReadEvent once the connection has been closed,
// whether by the remote end or by a local Close call.
var ErrClosed = errors.New("telephony: connection closed")

// Conn is one open duplex media-stream connection. The zero value is not
// usable; construct via [Accept].
type Conn struct {
	ws *websocket.Conn
}

// Accept upgrades an incoming HTTP request to a WebSocket and returns the
// resulting [Conn]. Callers are responsible for running ReadEvent in a loop
// until it returns ErrClosed, and for calling Close when done.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Telephony bridges identify themselves with a provider-specific
		// origin; the bootstrap webhook that issues the connecting markup
		// is the actual trust boundary, not this check.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telephony: accept: %w", err)
	}
	return &Conn{ws: ws}, nil
}

// ReadEvent blocks until the next inbound frame arrives and decodes it.
// Returns ErrClosed when the socket has been closed (normally via a `stop`
// event followed by the remote closing the connection, or abnormally).
func (c *Conn) ReadEvent(ctx context.Context) (InboundEvent, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return InboundEvent{}, fmt.Errorf("%w: %w", ErrClosed, err)
	}

	var wf wireFrame
	if err := json.Unmarshal(data, &wf); err != nil {
		return InboundEvent{}, fmt.Errorf("telephony: decode frame: %w", err)
	}

	switch wf.Event {
	case EventStart:
		ev := InboundEvent{Type: EventStart}
		if wf.Start != nil {
			ev.CallSID = wf.Start.CallSID
			ev.StreamSID = wf.Start.StreamSID
			ev.CallerPhone = wf.Start.From
			ev.CustomParameters = wf.Start.CustomParameters
		}
		return ev, nil
	case EventMedia:
		ev := InboundEvent{Type: EventMedia}
		if wf.Media != nil && wf.Media.Payload != "" {
			decoded, err := base64.StdEncoding.DecodeString(wf.Media.Payload)
			if err != nil {
				return InboundEvent{}, fmt.Errorf("telephony: decode media payload: %w", err)
			}
			ev.Payload = decoded
		}
		return ev, nil
	case EventMark:
		ev := InboundEvent{Type: EventMark}
		if wf.Mark != nil {
			ev.MarkName = wf.Mark.Name
		}
		return ev, nil
	case EventStop:
		return InboundEvent{Type: EventStop}, nil
	default:
		return InboundEvent{Type: wf.Event}, nil
	}
}

// WriteMedia sends an outbound `media` frame carrying mu-law audio.
func (c *Conn) WriteMedia(ctx context.Context, streamSID string, mulaw []byte) error {
	frame := wireFrame{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media: &struct {
			Payload string `json:"payload"`
		}{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
	return c.writeJSON(ctx, frame)
}

// WriteClear sends an outbound `clear` frame, instructing the telephony
// bridge to drop all buffered outbound audio immediately. This is the
// barge-in control path.
func (c *Conn) WriteClear(ctx context.Context, streamSID string) error {
	return c.writeJSON(ctx, wireFrame{Event: EventClear, StreamSID: streamSID})
}

// WriteMark sends an outbound `mark` frame so the bridge echoes it back
// once playback reaches that point, letting the Ingress task track
// playback progress.
func (c *Conn) WriteMark(ctx context.Context, streamSID, name string) error {
	frame := wireFrame{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark: &struct {
			Name string `json:"name"`
		}{Name: name},
	}
	return c.writeJSON(ctx, frame)
}

func (c *Conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("telephony: encode frame: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("telephony: write: %w", err)
	}
	return nil
}

// Close terminates the connection with a normal closure status. Safe to
// call more than once: closing an already-closed connection is reported as
// success, not an error, since the end state either way is "not connected".
func (c *Conn) Close() error {
	if err := c.ws.Close(websocket.StatusNormalClosure, "call ended"); err != nil {
		if websocket.CloseStatus(err) != -1 {
			return nil
		}
		return fmt.Errorf("telephony: close: %w", err)
	}
	return nil
}
