package model

import "time"

// ProviderKind selects the adapter implementation for an upstream LLM.
type ProviderKind string

const (
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderOpenAI    ProviderKind = "openai" // any OpenAI-compatible chat endpoint
	ProviderGemini    ProviderKind = "gemini"
)

// Valid reports whether k is one of the supported kinds.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
		return true
	default:
		return false
	}
}

// ProviderConfig describes one configured upstream. Lower Priority values are
// tried first.
type ProviderConfig struct {
	Name              string        `yaml:"name" mapstructure:"name"`
	Kind              ProviderKind  `yaml:"kind" mapstructure:"kind"`
	Model             string        `yaml:"model" mapstructure:"model"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	Priority          int           `yaml:"priority" mapstructure:"priority"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	TokensPerMinute   int64         `yaml:"tokens_per_minute" mapstructure:"tokens_per_minute"`
	FailureThreshold  int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeout   time.Duration `yaml:"recovery_timeout" mapstructure:"recovery_timeout"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxOutputTokens   int64         `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	Temperature       *float64      `yaml:"temperature" mapstructure:"temperature"` // nil keeps the vendor default
	Disabled          bool          `yaml:"disabled" mapstructure:"disabled"`
}
