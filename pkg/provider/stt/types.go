package stt

import "time"

// Transcript is a speech-to-text result. Both interim and final results use
// this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal marks a result the service will not revise.
	IsFinal bool

	// SpeechFinal marks the end of an utterance as detected by the service's
	// endpointing. Always false when IsFinal is false.
	SpeechFinal bool

	// Confidence is the overall confidence in 0.0..1.0. Zero when the
	// provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available.
	Words []WordDetail
}

// WordDetail holds per-word metadata.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}
