// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify
// which text and Voice were passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{Chunks: [][]byte{[]byte("audio1"), []byte("audio2")}}
//	ch, _ := p.Synthesize(ctx, "Excellent! Keep going.", tts.Voice{ID: "v1"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakwell/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of audio byte slices emitted on the returned
	// channel.
	Chunks [][]byte

	// SynthesizeErr, if non-nil, is returned instead of starting a channel.
	SynthesizeErr error

	// Calls records every Synthesize invocation.
	Calls []SynthesizeCall
}

// Synthesize records the call and streams Chunks on a channel that closes
// after the last chunk or when ctx is cancelled.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	chunks, err := p.Chunks, p.SynthesizeErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Texts returns the text of every recorded call. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ tts.Provider = (*Provider)(nil)
