package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/speakwell/pkg/provider/stt"
)

// STTFallback picks the recognizer for a live coaching session. Failover
// happens when a session is opened; a session that drops mid-stream surfaces
// through its Err channel and the caller opens a new one, which may land on
// another backend.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another recognizer, tried after those already added.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a session on the first recognizer that accepts it. A
// config with a non-positive sample rate or channel count is rejected before
// any backend is tried so it cannot trip their breakers.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("resilience: stt stream: invalid audio format %d Hz x %d", cfg.SampleRate, cfg.Channels)
	}
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// Healthy reports whether any recognizer is accepting sessions.
func (f *STTFallback) Healthy() bool { return f.group.Healthy() }

// States returns the breaker state of every recognizer keyed by name.
func (f *STTFallback) States() map[string]State { return f.group.States() }
