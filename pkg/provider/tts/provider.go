// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface. The primary entry point is
// SynthesizeStream, which accepts a channel of text fragments and returns a
// [SynthesisHandle] emitting raw audio bytes as they become available —
// enabling low-latency pipelining between the LLM's sentence stream and the
// telephony egress writer.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// SynthesisHandle represents one open synthesis stream. Callers read
// synthesized audio from Audio and must call Close when the utterance is no
// longer wanted, whether because it finished naturally or because a barge-in
// cut it short. Close is the only supported way to discard audio already
// in flight: it is the orchestrator's "clear" operation.
type SynthesisHandle interface {
	// Audio returns a read-only channel emitting raw audio byte slices
	// (PCM or mu-law, depending on the configured output format) as they
	// are synthesized. The channel is closed by the implementation when
	// synthesis completes, the input text channel closes and drains, ctx
	// is cancelled, or Close is called.
	Audio() <-chan []byte

	// Close abandons the stream immediately, discarding any audio not yet
	// delivered on Audio. Safe to call more than once.
	Close() error
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; a single call can be
// in flight synthesizing one caller's utterance while another prepares the
// next session.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a [SynthesisHandle] that emits audio as it is synthesized.
	// This design allows the caller to pipe the LLM's sentence-boundary
	// stream directly into synthesis without waiting for the full response.
	//
	// voice specifies the voice profile to use. Providers should return an
	// error if the requested voice is not available.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered mid-synthesis close the audio channel early.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (SynthesisHandle, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
