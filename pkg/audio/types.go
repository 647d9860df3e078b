package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the telephony
// media stream, decoded/encoded by codecs, and played back to the caller.
type AudioFrame struct {
	// PCM audio data. Sample rate and channel count are determined by the pipeline config.
	Data []byte

	// SampleRate in Hz (8000 for telephony mu-law, 16000 for most STT/TTS providers).
	SampleRate int

	// Channels: always 1 (mono) for a telephone call leg.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
