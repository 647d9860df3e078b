package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider
// credentials and connection pools require a process restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	BusinessHoursChanged bool
	NewBusinessHours     BusinessHours

	LLMParamsChanged bool
	NewTemperature   float64
	NewMaxTokens     int
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Business != new.Business {
		d.BusinessHoursChanged = true
		d.NewBusinessHours = new.Business
	}

	if old.Providers.LLM.Temperature != new.Providers.LLM.Temperature ||
		old.Providers.LLM.MaxTokens != new.Providers.LLM.MaxTokens {
		d.LLMParamsChanged = true
		d.NewTemperature = new.Providers.LLM.Temperature
		d.NewMaxTokens = new.Providers.LLM.MaxTokens
	}

	return d
}
