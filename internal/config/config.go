// Package config provides the configuration schema, loader, and provider registry
// for the speakwell coaching server.
package config

import "time"

// LogLevel controls log verbosity for the speakwell server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultMaxTranscriptLen = 1000
)

// Config is the root configuration structure for speakwell.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Assistant AssistantConfig `yaml:"assistant"`
	Coach     CoachConfig     `yaml:"coach"`
}

// ServerConfig holds network, logging, and request-limit settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxTranscriptLen caps accepted transcripts, in characters.
	MaxTranscriptLen int `yaml:"max_transcript_len"`

	// RateLimits throttles the expensive endpoints per client IP.
	RateLimits RateLimitsConfig `yaml:"rate_limits"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists extra browser origins (host patterns such as
	// "localhost:5173") allowed to open the live coaching WebSocket.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// RateLimitsConfig groups the per-endpoint request limits.
type RateLimitsConfig struct {
	Analyze   RateLimit `yaml:"analyze"`
	Exercises RateLimit `yaml:"exercises"`
}

// RateLimit allows Requests requests per Per window. A zero value disables
// limiting.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Per      time.Duration `yaml:"per"`
}

// Enabled reports whether the limit is active.
func (r RateLimit) Enabled() bool {
	return r.Requests > 0 && r.Per > 0
}

// ProvidersConfig declares which provider implementation backs each external
// capability. Each entry selects a named provider registered in the [Registry].
// Fallback entries are tried in order when the primary fails.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] when it is a string, or def.
func (e ProviderEntry) OptionString(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionInt returns Options[key] as an int, or def. YAML integers decode as
// int; floats are truncated.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// OptionBool returns Options[key] when it is a bool, or def.
func (e ProviderEntry) OptionBool(key string, def bool) bool {
	if v, ok := e.Options[key].(bool); ok {
		return v
	}
	return def
}

// AssistantConfig tunes the optional language-model grammar reviewer.
type AssistantConfig struct {
	// Enabled attaches the assistant when an LLM provider is configured.
	// Hot-reloadable.
	Enabled bool `yaml:"enabled"`

	GrammarTimeout   time.Duration `yaml:"grammar_timeout"`
	FeedbackTimeout  time.Duration `yaml:"feedback_timeout"`
	ExercisesTimeout time.Duration `yaml:"exercises_timeout"`

	// Temperature is the sampling temperature of grammar reviews.
	Temperature float64 `yaml:"temperature"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the assistant circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// CoachConfig holds the live coaching session defaults. Booleans are
// pointers so an omitted key keeps its default of true. The whole block is
// hot-reloadable and applies to sessions started after the change.
type CoachConfig struct {
	Level             string         `yaml:"level"`
	AutoCorrect       *bool          `yaml:"auto_correct"`
	SpeakFeedback     *bool          `yaml:"speak_feedback"`
	Welcome           *bool          `yaml:"welcome"`
	SettleDelay       time.Duration  `yaml:"settle_delay"`
	SilenceCommit     *time.Duration `yaml:"silence_commit"` // nil keeps the default; 0s disables
	HistorySize       int            `yaml:"history_size"`
	MuteWhileSpeaking *bool          `yaml:"mute_while_speaking"`
}

// Flag dereferences an optional boolean, returning true when unset.
func Flag(b *bool) bool {
	return b == nil || *b
}

// ApplyDefaults fills unset server and assistant values. Coach values are
// defaulted by the coaching session itself.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.MaxTranscriptLen <= 0 {
		c.Server.MaxTranscriptLen = DefaultMaxTranscriptLen
	}
	if c.Assistant.GrammarTimeout <= 0 {
		c.Assistant.GrammarTimeout = 10 * time.Second
	}
	if c.Assistant.FeedbackTimeout <= 0 {
		c.Assistant.FeedbackTimeout = 8 * time.Second
	}
	if c.Assistant.ExercisesTimeout <= 0 {
		c.Assistant.ExercisesTimeout = 15 * time.Second
	}
	if c.Assistant.Temperature == 0 {
		c.Assistant.Temperature = 0.3
	}
}
