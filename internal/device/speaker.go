package device

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/speakwell/internal/coach"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/pkg/provider/tts"
)

var _ coach.Synthesizer = (*Speaker)(nil)

// Speaker implements [coach.Synthesizer] on top of a [tts.Provider], writing
// the synthesised PCM to sink. Concurrent Speak calls are serialised so
// their audio never interleaves.
type Speaker struct {
	name     string
	provider tts.Provider
	voiceID  string
	metrics  *observe.Metrics

	mu   sync.Mutex
	sink io.Writer
}

// NewSpeaker creates a Speaker for voiceID. name identifies the provider in
// metrics.
func NewSpeaker(name string, provider tts.Provider, voiceID string, sink io.Writer, opts ...Option) *Speaker {
	o := buildOptions(opts)
	return &Speaker{
		name:     name,
		provider: provider,
		voiceID:  voiceID,
		metrics:  o.metrics,
		sink:     sink,
	}
}

// Speak synthesises text at rate and writes it to the sink. Cancelling ctx
// stops synthesis; audio already written stays in the sink.
func (s *Speaker) Speak(ctx context.Context, text string, rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	audio, err := s.provider.Synthesize(ctx, text, tts.Voice{ID: s.voiceID, Rate: rate})
	if err != nil {
		s.metrics.RecordProviderError(ctx, s.name, "tts")
		return fmt.Errorf("device: speak: %w", err)
	}

	var werr error
	for chunk := range audio {
		if werr != nil {
			continue
		}
		if _, err := s.sink.Write(chunk); err != nil {
			werr = fmt.Errorf("device: write audio: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if werr != nil {
		return werr
	}
	s.metrics.RecordProviderRequest(ctx, s.name, "tts", "ok")
	return nil
}
