package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/speakwell/pkg/provider/tts"
)

// TTSFallback voices coach replies through the first synthesizer whose
// breaker lets the call through.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another synthesizer, tried after those already added.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize starts synthesis of text. Blank text yields a closed channel
// without contacting any backend. Failover covers stream setup only; once
// audio flows, the chosen backend finishes the utterance.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.Voice) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		ch := make(chan []byte)
		close(ch)
		return ch, nil
	}
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// Healthy reports whether any synthesizer is accepting calls.
func (f *TTSFallback) Healthy() bool { return f.group.Healthy() }

// States returns the breaker state of every synthesizer keyed by name.
func (f *TTSFallback) States() map[string]State { return f.group.States() }
