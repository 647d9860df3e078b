// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram, Google
// Speech-to-Text, or a local Whisper server) and exposes a uniform streaming
// interface. The central abstraction is SessionHandle: once opened, a session
// accepts raw PCM audio frames and emits two streams of Transcript values —
// low-latency partials for responsiveness and authoritative finals for the session
// log.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"time"

	"github.com/dealerline/voiceagent/pkg/types"
)

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Telephony media streams are
	// 8000 Hz mu-law; most STT providers accept linear16 at 16000 Hz too.
	SampleRate int

	// Channels is the number of audio channels. Always 1 (mono) for a phone
	// call leg.
	Channels int

	// Encoding names the input codec, e.g. "mulaw" or "linear16".
	Encoding string

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string selects the provider's own default (the Deepgram
	// provider uses its WithLanguage value, "en" unless set).
	Language string

	// EndpointingMs is how long the provider waits after speech stops before
	// finalizing an utterance. Spec-default is ~300ms.
	EndpointingMs int

	// UtteranceEndMs is how long of silence triggers an UtteranceEnd event,
	// independent of endpointing. Spec-default is ~1000ms.
	UtteranceEndMs int

	// KeepaliveInterval is how often a keepalive frame is sent to hold the
	// connection open during caller silence. Spec-default is 10s.
	KeepaliveInterval time.Duration
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. Failing to do so
// may leak goroutines and network connections inside the provider implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk should match the SampleRate, Channels, and bit-depth
	// agreed in StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim Transcript
	// values as the provider makes preliminary guesses. These are suitable for
	// driving UI indicators but must not be written to the authoritative session log.
	// The channel is closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals returns a read-only channel that emits authoritative Transcript values
	// once the provider has committed to a recognition result. These are the values
	// that should be stored in the session log and passed to the LLM.
	// The channel is closed when the session ends.
	Finals() <-chan types.Transcript

	// UtteranceEnds returns a read-only channel that emits whenever the
	// provider detects UtteranceEndMs of silence, independent of any
	// speech_final on the last transcript. The orchestrator uses this to
	// decide when to stop waiting for more caller speech before driving the
	// LLM. The channel is closed when the session ends.
	UtteranceEnds() <-chan struct{}

	// Close terminates the session, flushes any pending audio, and releases all
	// associated resources. After Close returns, the Partials and Finals channels
	// will be closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be open
// simultaneously (e.g., one per player in a multiplayer session).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given audio
	// format and recognition configuration. The returned SessionHandle is ready to
	// accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already cancelled).
	// The caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
