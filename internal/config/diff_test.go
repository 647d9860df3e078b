package config_test

import (
	"testing"

	"github.com/dealerline/voiceagent/internal/config"
)

func TestDiff_NoChange(t *testing.T) {
	a := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	b := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}

	d := config.Diff(a, b)
	if d.LogLevelChanged || d.BusinessHoursChanged || d.LLMParamsChanged {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	a := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	b := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelDebug}}

	d := config.Diff(a, b)
	if !d.LogLevelChanged {
		t.Fatal("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogLevelDebug {
		t.Errorf("NewLogLevel: got %q, want %q", d.NewLogLevel, config.LogLevelDebug)
	}
}

func TestDiff_BusinessHoursChanged(t *testing.T) {
	a := &config.Config{Business: config.DefaultBusinessHours()}
	changed := config.DefaultBusinessHours()
	changed.Sunday = config.DayHours{Open: "10:00", Close: "14:00"}
	b := &config.Config{Business: changed}

	d := config.Diff(a, b)
	if !d.BusinessHoursChanged {
		t.Fatal("expected BusinessHoursChanged=true")
	}
	if d.NewBusinessHours.Sunday.Open != "10:00" {
		t.Errorf("NewBusinessHours.Sunday.Open: got %q, want %q", d.NewBusinessHours.Sunday.Open, "10:00")
	}
}

func TestDiff_LLMParamsChanged(t *testing.T) {
	a := &config.Config{Providers: config.ProvidersConfig{LLM: config.LLMConfig{Temperature: 0.8, MaxTokens: 1000}}}
	b := &config.Config{Providers: config.ProvidersConfig{LLM: config.LLMConfig{Temperature: 0.5, MaxTokens: 1000}}}

	d := config.Diff(a, b)
	if !d.LLMParamsChanged {
		t.Fatal("expected LLMParamsChanged=true")
	}
	if d.NewTemperature != 0.5 {
		t.Errorf("NewTemperature: got %f, want 0.5", d.NewTemperature)
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	a := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogLevelInfo},
		Providers: config.ProvidersConfig{LLM: config.LLMConfig{Temperature: 0.8, MaxTokens: 1000}},
	}
	b := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogLevelWarn},
		Providers: config.ProvidersConfig{LLM: config.LLMConfig{Temperature: 0.8, MaxTokens: 500}},
	}

	d := config.Diff(a, b)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.LLMParamsChanged {
		t.Error("expected LLMParamsChanged=true")
	}
	if d.NewMaxTokens != 500 {
		t.Errorf("NewMaxTokens: got %d, want 500", d.NewMaxTokens)
	}
}
