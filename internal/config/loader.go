package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/speakwell/internal/feedback"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, validates it, and applies
// defaults. Unknown keys are rejected. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxTranscriptLen < 0 {
		errs = append(errs, fmt.Errorf("server.max_transcript_len %d must not be negative", cfg.Server.MaxTranscriptLen))
	}
	errs = append(errs, validateRateLimit("server.rate_limits.analyze", cfg.Server.RateLimits.Analyze)...)
	errs = append(errs, validateRateLimit("server.rate_limits.exercises", cfg.Server.RateLimits.Exercises)...)
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	errs = append(errs, validateFallbacks("llm", cfg.Providers.LLM, cfg.Providers.LLMFallbacks)...)
	errs = append(errs, validateFallbacks("stt", cfg.Providers.STT, cfg.Providers.STTFallbacks)...)
	errs = append(errs, validateFallbacks("tts", cfg.Providers.TTS, cfg.Providers.TTSFallbacks)...)

	// Assistant
	a := cfg.Assistant
	if a.Enabled && cfg.Providers.LLM.Name == "" {
		slog.Warn("assistant.enabled is set but providers.llm is not configured; analysis will use rules only")
	}
	for name, d := range map[string]int64{
		"grammar_timeout":   int64(a.GrammarTimeout),
		"feedback_timeout":  int64(a.FeedbackTimeout),
		"exercises_timeout": int64(a.ExercisesTimeout),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("assistant.%s must not be negative", name))
		}
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0, 2]", a.Temperature))
	}
	if a.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("assistant.breaker.max_failures %d must not be negative", a.Breaker.MaxFailures))
	}
	if a.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("assistant.breaker.reset_timeout must not be negative"))
	}

	// Coach
	errs = append(errs, validateCoach(cfg.Coach)...)

	return errors.Join(errs...)
}

func validateCoach(c CoachConfig) []error {
	var errs []error
	if _, err := feedback.ParseLevel(c.Level); err != nil {
		errs = append(errs, fmt.Errorf("coach.level %q is invalid; valid values: A1, A2, B1, B2, C1", c.Level))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, errors.New("coach.settle_delay must not be negative"))
	}
	if c.SilenceCommit != nil && *c.SilenceCommit < 0 {
		errs = append(errs, errors.New("coach.silence_commit must not be negative"))
	}
	if c.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("coach.history_size %d must not be negative", c.HistorySize))
	}
	if Flag(c.AutoCorrect) && c.SpeakFeedback != nil && !*c.SpeakFeedback {
		slog.Warn("coach.auto_correct has no effect while coach.speak_feedback is false")
	}
	return errs
}

func validateRateLimit(prefix string, r RateLimit) []error {
	var errs []error
	if r.Requests < 0 {
		errs = append(errs, fmt.Errorf("%s.requests %d must not be negative", prefix, r.Requests))
	}
	if r.Per < 0 {
		errs = append(errs, fmt.Errorf("%s.per must not be negative", prefix))
	}
	if r.Requests > 0 && r.Per == 0 {
		errs = append(errs, fmt.Errorf("%s.per is required when requests is set", prefix))
	}
	return errs
}

func validateFallbacks(kind string, primary ProviderEntry, fallbacks []ProviderEntry) []error {
	var errs []error
	if len(fallbacks) > 0 && primary.Name == "" {
		errs = append(errs, fmt.Errorf("providers.%s_fallbacks requires providers.%s to be configured", kind, kind))
	}
	for i, fb := range fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
