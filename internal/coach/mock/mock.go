// Package mock provides test doubles for the coach device and analyzer
// interfaces.
//
// Capture is driven by the test through Emit; Synthesizer and Analyzer
// record their calls and can be made to block until released, to hold the
// loop in a known state.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/coach"
)

var (
	_ coach.Capture     = (*Capture)(nil)
	_ coach.Synthesizer = (*Synthesizer)(nil)
	_ coach.Analyzer    = (*Analyzer)(nil)
)

// Capture is a mock implementation of coach.Capture.
type Capture struct {
	mu sync.Mutex

	events chan coach.CaptureEvent

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	starts, stops, resets int
	listening             bool
}

// NewCapture returns a Capture with an unbuffered events channel, so Emit
// returns only once the loop has taken the event.
func NewCapture() *Capture {
	return &Capture{events: make(chan coach.CaptureEvent)}
}

// Emit sends ev to the loop and blocks until it is received.
func (c *Capture) Emit(ev coach.CaptureEvent) { c.events <- ev }

// SetStartErr changes the error returned by Start.
func (c *Capture) SetStartErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StartErr = err
}

// Say emits a final transcript with full confidence.
func (c *Capture) Say(transcript string) {
	c.Emit(coach.CaptureEvent{Transcript: transcript, Confidence: 1, IsFinal: true})
}

func (c *Capture) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.StartErr != nil {
		return c.StartErr
	}
	c.listening = true
	return nil
}

func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.listening = false
	return nil
}

func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
}

func (c *Capture) Events() <-chan coach.CaptureEvent { return c.events }

// Counts returns the number of Start, Stop and Reset calls.
func (c *Capture) Counts() (starts, stops, resets int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops, c.resets
}

// Listening reports whether the last Start succeeded and no Stop followed.
func (c *Capture) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// SpeakCall records a single invocation of Synthesizer.Speak.
type SpeakCall struct {
	Text string
	Rate float64
}

// Synthesizer is a mock implementation of coach.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Speak.
	Err error

	// Block, if non-nil, makes Speak wait until it is closed or ctx ends.
	Block chan struct{}

	Calls []SpeakCall
}

func (s *Synthesizer) Speak(ctx context.Context, text string, rate float64) error {
	s.mu.Lock()
	s.Calls = append(s.Calls, SpeakCall{Text: text, Rate: rate})
	block, err := s.Block, s.Err
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Spoken returns a copy of the recorded calls.
func (s *Synthesizer) Spoken() []SpeakCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SpeakCall, len(s.Calls))
	copy(out, s.Calls)
	return out
}

// Analyzer is a mock implementation of coach.Analyzer.
type Analyzer struct {
	mu sync.Mutex

	// AnalyzeFunc, if set, produces the result. Otherwise Result and Err are
	// returned.
	AnalyzeFunc func(req analysis.Request) (*analysis.Analysis, error)
	Result      *analysis.Analysis
	Err         error

	// Gate, if non-nil, makes Analyze wait until it is closed or ctx ends.
	Gate chan struct{}

	// Started receives each request as Analyze begins, if non-nil.
	Started chan analysis.Request

	Requests []analysis.Request
}

func (a *Analyzer) Analyze(ctx context.Context, req analysis.Request) (*analysis.Analysis, error) {
	a.mu.Lock()
	a.Requests = append(a.Requests, req)
	fn, res, err, gate, started := a.AnalyzeFunc, a.Result, a.Err, a.Gate, a.Started
	a.mu.Unlock()

	if started != nil {
		started <- req
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(req)
	}
	return res, err
}

// Calls returns the number of Analyze calls.
func (a *Analyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Requests)
}
