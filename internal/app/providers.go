package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/resilience"
	"github.com/MrWong99/speakwell/pkg/provider/llm"
	"github.com/MrWong99/speakwell/pkg/provider/stt"
	"github.com/MrWong99/speakwell/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// capability is not configured. Slots with fallbacks hold a
// [resilience.LLMFallback], [resilience.STTFallback] or
// [resilience.TTSFallback].
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// Names of the primary providers, for logs and metric labels.
	LLMName string
	STTName string
	TTSName string
}

// BuildProviders instantiates every provider named in cfg through reg and
// wraps primaries that declare fallbacks in a fallback group. A provider name
// that is not registered is skipped with a warning; a factory error fails
// the build.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	pc := cfg.Providers

	if name := pc.LLM.Name; name != "" {
		primary, err := create("llm", pc.LLM, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		if primary != nil {
			ps.LLM, ps.LLMName = primary, name
			if len(pc.LLMFallbacks) > 0 {
				group := resilience.NewLLMFallback(primary, name, fallbackConfig(cfg))
				for _, e := range pc.LLMFallbacks {
					p, err := create("llm", e, reg.CreateLLM)
					if err != nil {
						return nil, err
					}
					if p != nil {
						group.AddFallback(e.Name, p)
					}
				}
				ps.LLM = group
			}
		}
	}

	if name := pc.STT.Name; name != "" {
		primary, err := create("stt", pc.STT, reg.CreateSTT)
		if err != nil {
			return nil, err
		}
		if primary != nil {
			ps.STT, ps.STTName = primary, name
			if len(pc.STTFallbacks) > 0 {
				group := resilience.NewSTTFallback(primary, name, fallbackConfig(cfg))
				for _, e := range pc.STTFallbacks {
					p, err := create("stt", e, reg.CreateSTT)
					if err != nil {
						return nil, err
					}
					if p != nil {
						group.AddFallback(e.Name, p)
					}
				}
				ps.STT = group
			}
		}
	}

	if name := pc.TTS.Name; name != "" {
		primary, err := create("tts", pc.TTS, reg.CreateTTS)
		if err != nil {
			return nil, err
		}
		if primary != nil {
			ps.TTS, ps.TTSName = primary, name
			if len(pc.TTSFallbacks) > 0 {
				group := resilience.NewTTSFallback(primary, name, fallbackConfig(cfg))
				for _, e := range pc.TTSFallbacks {
					p, err := create("tts", e, reg.CreateTTS)
					if err != nil {
						return nil, err
					}
					if p != nil {
						group.AddFallback(e.Name, p)
					}
				}
				ps.TTS = group
			}
		}
	}

	return ps, nil
}

// create runs one registry factory. An unregistered name yields a nil
// provider and no error.
func create[T any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	p, err := factory(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("app: create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

// fallbackConfig reuses the assistant breaker settings for every provider
// group.
func fallbackConfig(cfg *config.Config) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Assistant.Breaker.MaxFailures,
			ResetTimeout: cfg.Assistant.Breaker.ResetTimeout,
		},
	}
}
