// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. Once opened, a [SessionHandle]
// accepts raw PCM audio frames and emits interim and final [Transcript]
// values on a single channel, in the order the service produced them.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// StreamConfig describes the audio format and recognition hints for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Zero means the provider default.
	SampleRate int

	// Channels is the number of audio channels; 1 (mono) in practice.
	Channels int

	// Language is the BCP-47 language tag (e.g., "en-US"). Empty means the
	// provider default.
	Language string

	// Keyterms are vocabulary hints that raise recognition probability for
	// words the learner is practising.
	Keyterms []string

	// Endpointing is the silence after which the service closes an utterance.
	// Zero means the provider default.
	Endpointing time.Duration
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit little-endian PCM audio matching
	// the StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Transcripts returns the channel of interim and final results. It is
	// closed when the session ends.
	Transcripts() <-chan Transcript

	// Err returns the error that ended the session, or nil when it ended
	// through Close. Only meaningful after Transcripts is closed.
	Err() error

	// Close flushes pending audio and releases the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a streaming transcription session. The returned
	// handle is ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
