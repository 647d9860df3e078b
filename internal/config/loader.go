package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per pipeline stage.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic"},
	"stt": {"deepgram"},
	"tts": {"elevenlabs"},
}

var hhmmPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in spec-mandated defaults for fields left unset.
func applyDefaults(cfg *Config) {
	if cfg.Providers.LLM.Temperature == 0 {
		cfg.Providers.LLM.Temperature = 0.8
	}
	if cfg.Providers.LLM.MaxTokens == 0 {
		cfg.Providers.LLM.MaxTokens = 1000
	}
	if cfg.Providers.STT.SampleRate == 0 {
		cfg.Providers.STT.SampleRate = 8000
	}
	if cfg.Providers.STT.Channels == 0 {
		cfg.Providers.STT.Channels = 1
	}
	if cfg.Providers.STT.Encoding == "" {
		cfg.Providers.STT.Encoding = "mulaw"
	}
	if cfg.Providers.STT.EndpointingMs == 0 {
		cfg.Providers.STT.EndpointingMs = 300
	}
	if cfg.Providers.STT.UtteranceEndMs == 0 {
		cfg.Providers.STT.UtteranceEndMs = 1000
	}
	if cfg.Providers.TTS.SampleRate == 0 {
		cfg.Providers.TTS.SampleRate = 8000
	}
	if cfg.Providers.TTS.Encoding == "" {
		cfg.Providers.TTS.Encoding = "mulaw"
	}
	if cfg.Business == (BusinessHours{}) {
		cfg.Business = DefaultBusinessHours()
	}
	if cfg.VIN.Timeout == 0 {
		cfg.VIN.Timeout = 5 * time.Second
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Providers.LLM.Temperature < 0 || cfg.Providers.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("providers.llm.temperature %.2f is out of range [0, 2]", cfg.Providers.LLM.Temperature))
	}
	if cfg.Providers.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("providers.llm.max_tokens must not be negative"))
	}

	if cfg.Session.URL == "" {
		slog.Warn("session_store.url is empty; session persistence will not be available")
	}
	if cfg.Database.URL == "" {
		slog.Warn("database.url is empty; relational storage will not be available")
	}
	if cfg.Database.MaxPoolSize > 0 && cfg.Database.MinPoolSize > cfg.Database.MaxPoolSize {
		errs = append(errs, fmt.Errorf("database.min_pool_size (%d) must not exceed database.max_pool_size (%d)", cfg.Database.MinPoolSize, cfg.Database.MaxPoolSize))
	}

	if cfg.Telephony.TestOutboundNumber == "" {
		slog.Warn("telephony.test_outbound_number is empty; outbound dialing is disabled")
	}

	for name, day := range map[string]DayHours{
		"monday":    cfg.Business.Monday,
		"tuesday":   cfg.Business.Tuesday,
		"wednesday": cfg.Business.Wednesday,
		"thursday":  cfg.Business.Thursday,
		"friday":    cfg.Business.Friday,
		"saturday":  cfg.Business.Saturday,
		"sunday":    cfg.Business.Sunday,
	} {
		if day.Closed() {
			continue
		}
		if !hhmmPattern.MatchString(day.Open) || !hhmmPattern.MatchString(day.Close) {
			errs = append(errs, fmt.Errorf("business_hours.%s: open/close must be HH:MM, got %q/%q", name, day.Open, day.Close))
			continue
		}
		if day.Close <= day.Open {
			errs = append(errs, fmt.Errorf("business_hours.%s: close %q must be after open %q", name, day.Close, day.Open))
		}
	}
	if cfg.Business.LunchStart != "" || cfg.Business.LunchEnd != "" {
		if !hhmmPattern.MatchString(cfg.Business.LunchStart) || !hhmmPattern.MatchString(cfg.Business.LunchEnd) {
			errs = append(errs, fmt.Errorf("business_hours: lunch_start/lunch_end must be HH:MM, got %q/%q", cfg.Business.LunchStart, cfg.Business.LunchEnd))
		} else if cfg.Business.LunchEnd <= cfg.Business.LunchStart {
			errs = append(errs, fmt.Errorf("business_hours: lunch_end %q must be after lunch_start %q", cfg.Business.LunchEnd, cfg.Business.LunchStart))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
