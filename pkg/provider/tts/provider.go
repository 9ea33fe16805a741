// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface. Synthesize accepts one utterance of
// text and returns a channel of raw PCM audio bytes as they become available,
// so playback can start before synthesis completes.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to speech with the given voice and returns a
	// channel that emits 16-bit little-endian PCM chunks.
	//
	// The returned channel is closed by the implementation when synthesis is
	// complete or ctx is cancelled. The caller must drain it to avoid
	// blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered during synthesis close the channel early; callers should
	// check ctx.Err() to distinguish cancellation from provider errors.
	Synthesize(ctx context.Context, text string, voice Voice) (<-chan []byte, error)
}
