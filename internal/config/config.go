// Package config provides the configuration schema, loader, and provider
// registry for the voice agent.
package config

import "time"

// Config is the root configuration structure for the voice agent.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telephony TelephonyConfig `yaml:"telephony"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session_store"`
	Database  DatabaseConfig  `yaml:"database"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	VIN       VINConfig       `yaml:"vin"`
	Business  BusinessHours   `yaml:"business_hours"`
}

// ServerConfig holds network and logging settings for the voice agent server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel is a validated logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// TelephonyConfig holds the credentials and dialing policy for the telephony
// carrier (e.g. Twilio-shaped) that bridges PSTN calls to the media-stream
// WebSocket.
type TelephonyConfig struct {
	// AccountSID and AuthToken authenticate REST calls to the carrier (e.g.
	// to originate an outbound call).
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`

	// FromNumber is the caller-ID number used for outbound calls.
	FromNumber string `yaml:"from_number"`

	// BootstrapURL is the public HTTPS URL the carrier fetches to obtain the
	// bootstrap markup pointing at this service's media-stream endpoint. The
	// webhook handler that serves this URL is out of scope for this module;
	// only the duplex media-stream socket it bootstraps is implemented here.
	BootstrapURL string `yaml:"bootstrap_url"`

	// TestOutboundNumber is a POC safety rail: outbound dialing refuses any
	// destination other than this number. Empty disables outbound dialing
	// entirely.
	TestOutboundNumber string `yaml:"test_outbound_number"`
}

// ProvidersConfig declares which provider implementation and settings to use
// for each stage of the cascaded STT → LLM → TTS pipeline.
type ProvidersConfig struct {
	STT STTConfig `yaml:"stt"`
	TTS TTSConfig `yaml:"tts"`
	LLM LLMConfig `yaml:"llm"`
}

// STTConfig configures the speech-to-text provider.
type STTConfig struct {
	// Name selects the registered provider implementation (e.g., "deepgram").
	Name string `yaml:"name"`

	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Language string `yaml:"language"`

	// Encoding is the audio codec delivered to the provider. Telephony media
	// streams are mu-law.
	Encoding string `yaml:"encoding"`

	// SampleRate in Hz. Telephony media streams are 8000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count. Always 1 for a phone call leg.
	Channels int `yaml:"channels"`

	InterimResults bool `yaml:"interim_results"`
	SmartFormat    bool `yaml:"smart_format"`

	// EndpointingMs is how long the provider waits after speech stops before
	// finalizing an utterance. Default ~300ms.
	EndpointingMs int `yaml:"endpointing_ms"`

	// UtteranceEndMs is how long of silence triggers an UtteranceEnd event.
	// Default ~1000ms.
	UtteranceEndMs int `yaml:"utterance_end_ms"`
}

// TTSConfig configures the text-to-speech provider.
type TTSConfig struct {
	// Name selects the registered provider implementation (e.g., "elevenlabs").
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	VoiceID string `yaml:"voice_id"`

	// Encoding is the audio codec requested from the provider. Telephony
	// media streams are mu-law.
	Encoding string `yaml:"encoding"`

	// SampleRate in Hz. Telephony media streams are 8000.
	SampleRate int `yaml:"sample_rate"`
}

// LLMConfig configures the language-model provider.
type LLMConfig struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "anthropic").
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	// Temperature is the sampling temperature setting. Default 0.8; Validate
	// rejects values outside [0, 2]. No completion request reads it: the
	// conversation loop and the history summariser each send a fixed
	// temperature of 0.3.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens is the completion length cap. Default 1000. Only the
	// anthropic provider is built with it (as its default max_tokens); the
	// openai provider is built without it and sends no cap.
	MaxTokens int `yaml:"max_tokens"`
}

// SessionConfig configures the ephemeral session-store (Redis) connection.
type SessionConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

// DatabaseConfig configures the relational store (Postgres) connection pool.
type DatabaseConfig struct {
	URL string `yaml:"url"`

	// MinPoolSize and MaxPoolSize bound the connection pool. A non-zero
	// MinPoolSize keeps that many connections warm; MaxPoolSize is the
	// overflow ceiling.
	MinPoolSize int `yaml:"min_pool_size"`
	MaxPoolSize int `yaml:"max_pool_size"`
}

// CalendarConfig configures the OAuth2 refresh-token flow used to reach the
// calendar upstream.
type CalendarConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`

	// Timezone is the IANA timezone name (e.g. "America/Chicago") of the
	// dealership. No component reads it: get_available_slots reads the
	// business-hours clock values as UTC times, and the calendar client
	// sends and receives UTC timestamps without conversion.
	Timezone string `yaml:"timezone"`
}

// VINConfig configures the VIN decode upstream.
type VINConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BusinessHours describes the dealership's open hours, used to compute
// available appointment slots. Times are "HH:MM" in the configured calendar
// timezone. A day with both fields empty is closed.
type BusinessHours struct {
	Monday    DayHours `yaml:"monday"`
	Tuesday   DayHours `yaml:"tuesday"`
	Wednesday DayHours `yaml:"wednesday"`
	Thursday  DayHours `yaml:"thursday"`
	Friday    DayHours `yaml:"friday"`
	Saturday  DayHours `yaml:"saturday"`
	Sunday    DayHours `yaml:"sunday"`

	// LunchStart and LunchEnd carve an exclusion window out of every open
	// day (default 12:00-13:00). Leave both empty to disable.
	LunchStart string `yaml:"lunch_start"`
	LunchEnd   string `yaml:"lunch_end"`
}

// ForWeekday returns the configured [DayHours] for wd.
func (b BusinessHours) ForWeekday(wd time.Weekday) DayHours {
	switch wd {
	case time.Monday:
		return b.Monday
	case time.Tuesday:
		return b.Tuesday
	case time.Wednesday:
		return b.Wednesday
	case time.Thursday:
		return b.Thursday
	case time.Friday:
		return b.Friday
	case time.Saturday:
		return b.Saturday
	default:
		return b.Sunday
	}
}

// DayHours is the open/close window for a single day. Both empty means closed.
type DayHours struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// Closed reports whether d has no configured open window.
func (d DayHours) Closed() bool {
	return d.Open == "" && d.Close == ""
}

// DefaultBusinessHours returns the dealership's standard hours: Mon-Fri
// 09:00-17:00, Sat 09:00-15:00, Sun closed, with a 12:00-13:00 lunch
// exclusion on every open day.
func DefaultBusinessHours() BusinessHours {
	weekday := DayHours{Open: "09:00", Close: "17:00"}
	return BusinessHours{
		Monday:     weekday,
		Tuesday:    weekday,
		Wednesday:  weekday,
		Thursday:   weekday,
		Friday:     weekday,
		Saturday:   DayHours{Open: "09:00", Close: "15:00"},
		Sunday:     DayHours{},
		LunchStart: "12:00",
		LunchEnd:   "13:00",
	}
}
