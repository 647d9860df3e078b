package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dealerline/voiceagent/internal/telephony"
	"github.com/dealerline/voiceagent/pkg/provider/llm"
	"github.com/dealerline/voiceagent/pkg/provider/stt"
	sttmock "github.com/dealerline/voiceagent/pkg/provider/stt/mock"
	"github.com/dealerline/voiceagent/pkg/provider/tts"
)

// blockingSynthHandle emits exactly one audio chunk, then blocks on Audio()
// until released, simulating a TTS stream that is still mid-playback.
type blockingSynthHandle struct {
	audioCh chan []byte
	release chan struct{}
	once    sync.Once
}

func newBlockingSynthHandle(firstChunk []byte) *blockingSynthHandle {
	h := &blockingSynthHandle{
		audioCh: make(chan []byte, 1),
		release: make(chan struct{}),
	}
	h.audioCh <- firstChunk
	go func() {
		<-h.release
		close(h.audioCh)
	}()
	return h
}

func (h *blockingSynthHandle) Audio() <-chan []byte { return h.audioCh }

// Close releases the block, letting the synthesis goroutine close audioCh.
// Safe to call more than once, matching tts.SynthesisHandle's contract.
func (h *blockingSynthHandle) Close() error {
	h.once.Do(func() { close(h.release) })
	return nil
}

// blockingTTSProvider hands out one blockingSynthHandle per call, recording
// it so the test can release playback once it has observed a barge-in.
type blockingTTSProvider struct {
	mu      sync.Mutex
	handles []*blockingSynthHandle
}

func (p *blockingTTSProvider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (tts.SynthesisHandle, error) {
	go func() {
		for range text {
		}
	}()
	h := newBlockingSynthHandle([]byte("chunk-1"))
	p.mu.Lock()
	p.handles = append(p.handles, h)
	p.mu.Unlock()
	return h, nil
}

func (p *blockingTTSProvider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return nil, nil
}

func (p *blockingTTSProvider) releaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range p.handles {
		h.Close()
	}
}

var _ tts.Provider = (*blockingTTSProvider)(nil)

// TestHandleConn_InterimBargeInDuringPlayback proves the fix for the turn
// loop blocking the Turn task on its own Egress subtask: an interim
// transcript arriving while synthesis is still mid-stream must still
// observe the call as speaking and trigger bargeIn's telephony clear,
// rather than queuing unread until the (still-playing) turn finishes on
// its own.
func TestHandleConn_InterimBargeInDuringPlayback(t *testing.T) {
	sttSession := &sttmock.Session{
		PartialsCh:      make(chan stt.Transcript, 4),
		FinalsCh:        make(chan stt.Transcript, 4),
		UtteranceEndsCh: make(chan struct{}, 4),
	}

	chunks := []llm.Chunk{
		{Text: "One moment while I check that."},
		{FinishReason: "stop"},
	}

	deps, _, _, _ := testDependencies(sttSession, chunks, nil)
	blockingTTS := &blockingTTSProvider{}
	deps.TTS = blockingTTS
	orch := New(deps)

	srv, done := startOrchestratorServer(t, orch)
	client := dialMediaStream(t, srv)

	writeFrame(t, client, map[string]any{
		"event": "start",
		"start": map[string]any{
			"callSid":   "CA-bargein-live",
			"streamSid": "MZ-bargein-live",
			"from":      "+15555550124",
		},
	})

	time.Sleep(50 * time.Millisecond)

	sttSession.FinalsCh <- stt.Transcript{
		Text:        "Can you check my appointment?",
		IsFinal:     true,
		SpeechFinal: true,
	}

	// Wait for the turn's first (and, by design, only) audio chunk: proof
	// that Egress has started and the call is marked speaking, while its
	// synthesis handle is still open and blocked.
	readUntilMedia(t, client)

	// Send an interim transcript while synthesis is still mid-stream. If
	// turnLoop were still blocked inside the synchronous runTurn/driveLLM
	// call (the bug under test), this would sit unread in the transcripts
	// channel until the blocked synthesis eventually unblocks on its own.
	sttSession.PartialsCh <- stt.Transcript{
		Text:    "wait, actually",
		IsFinal: false,
	}

	ev := readUntilEvent(t, client, telephony.EventClear)
	if ev.StreamSid != "MZ-bargein-live" {
		t.Errorf("clear frame streamSid = %q, want %q", ev.StreamSid, "MZ-bargein-live")
	}

	blockingTTS.releaseAll()
	writeFrame(t, client, map[string]any{"event": "stop"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("HandleConn returned error: %v", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("HandleConn did not return after stop; turn goroutine likely stuck")
	}
}
