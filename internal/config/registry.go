package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dealerline/voiceagent/pkg/provider/llm"
	"github.com/dealerline/voiceagent/pkg/provider/stt"
	"github.com/dealerline/voiceagent/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// pipeline stage. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]func(LLMConfig) (llm.Provider, error)
	stt map[string]func(STTConfig) (stt.Provider, error)
	tts map[string]func(TTSConfig) (tts.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]func(LLMConfig) (llm.Provider, error)),
		stt: make(map[string]func(STTConfig) (stt.Provider, error)),
		tts: make(map[string]func(TTSConfig) (tts.Provider, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(LLMConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(STTConfig) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(TTSConfig) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under cfg.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(cfg LLMConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateSTT instantiates an STT provider using the factory registered under cfg.Name.
func (r *Registry) CreateSTT(cfg STTConfig) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateTTS instantiates a TTS provider using the factory registered under cfg.Name.
func (r *Registry) CreateTTS(cfg TTSConfig) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}
