// Package device adapts the speech providers to the coach device contracts:
// [Capture] streams PCM audio into an STT session and reports the running
// transcript; [Speaker] synthesises coach lines through a TTS provider into
// an audio sink.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/speakwell/internal/coach"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/pkg/provider/stt"
)

// ErrNotListening is returned by [Capture.Write] while capture is stopped.
var ErrNotListening = errors.New("device: capture is not listening")

var _ coach.Capture = (*Capture)(nil)

// Option is a functional option for the adapters in this package.
type Option func(*options)

type options struct {
	metrics *observe.Metrics
}

// WithMetrics records provider metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Capture implements [coach.Capture] on top of an [stt.Provider]. Audio is
// pushed in with Write; every interim or final result produces one event
// carrying all text recognised since the last Reset.
type Capture struct {
	name     string
	provider stt.Provider
	cfg      stt.StreamConfig
	metrics  *observe.Metrics
	events   chan coach.CaptureEvent

	mu      sync.Mutex
	sess    stt.SessionHandle
	finals  []string
	interim string
	heardAt time.Time // first audio since the last final transcript
}

// NewCapture creates a stopped Capture. name identifies the provider in
// metrics.
func NewCapture(name string, provider stt.Provider, cfg stt.StreamConfig, opts ...Option) *Capture {
	o := buildOptions(opts)
	return &Capture{
		name:     name,
		provider: provider,
		cfg:      cfg,
		metrics:  o.metrics,
		events:   make(chan coach.CaptureEvent, 16),
	}
}

// Events returns the transcript channel. It is never closed.
func (c *Capture) Events() <-chan coach.CaptureEvent { return c.events }

// Start opens a new STT session. Starting a running Capture is a no-op.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return nil
	}

	sess, err := c.provider.StartStream(ctx, c.cfg)
	if err != nil {
		c.metrics.RecordProviderError(ctx, c.name, "stt")
		return fmt.Errorf("device: start capture: %w", err)
	}
	c.metrics.RecordProviderRequest(ctx, c.name, "stt", "ok")
	c.sess = sess
	go c.forward(sess)
	return nil
}

// Stop closes the STT session. Stopping a stopped Capture is a no-op.
func (c *Capture) Stop() error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess == nil {
		return nil
	}
	if err := sess.Close(); err != nil {
		return fmt.Errorf("device: stop capture: %w", err)
	}
	return nil
}

// Reset forgets the accumulated transcript and discards events not yet
// taken by the coach.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finals = nil
	c.interim = ""
	c.heardAt = time.Time{}
	for {
		select {
		case <-c.events:
		default:
			return
		}
	}
}

// Write sends one chunk of PCM audio to the active session.
func (c *Capture) Write(chunk []byte) error {
	c.mu.Lock()
	sess := c.sess
	if sess != nil && c.heardAt.IsZero() {
		c.heardAt = time.Now()
	}
	c.mu.Unlock()
	if sess == nil {
		return ErrNotListening
	}
	return sess.SendAudio(chunk)
}

// forward turns session transcripts into coach events until the session
// ends.
func (c *Capture) forward(sess stt.SessionHandle) {
	for t := range sess.Transcripts() {
		c.mu.Lock()
		if c.sess != sess {
			c.mu.Unlock()
			continue
		}
		if t.IsFinal {
			if text := strings.TrimSpace(t.Text); text != "" {
				c.finals = append(c.finals, text)
			}
			c.interim = ""
			if !c.heardAt.IsZero() {
				c.metrics.RecordTranscriptLatency(context.Background(), c.name, time.Since(c.heardAt))
				c.heardAt = time.Time{}
			}
		} else {
			c.interim = strings.TrimSpace(t.Text)
		}
		c.emit(coach.CaptureEvent{
			Transcript: c.transcript(),
			Confidence: t.Confidence,
			IsFinal:    t.IsFinal,
		})
		c.mu.Unlock()
	}

	if err := sess.Err(); err != nil {
		slog.Warn("device: stt session ended", "provider", c.name, "err", err)
		c.metrics.RecordProviderError(context.Background(), c.name, "stt")
		c.mu.Lock()
		if c.sess == sess {
			c.sess = nil
			c.emit(coach.CaptureEvent{Err: err})
		}
		c.mu.Unlock()
	}
}

// transcript joins the final segments and the pending interim text.
// Callers hold c.mu.
func (c *Capture) transcript() string {
	parts := c.finals
	if c.interim != "" {
		parts = append(parts[:len(parts):len(parts)], c.interim)
	}
	return strings.Join(parts, " ")
}

// emit queues ev, discarding the oldest queued events if the coach is
// behind. Events are cumulative, so only the newest matters. Callers hold
// c.mu.
func (c *Capture) emit(ev coach.CaptureEvent) {
	for {
		select {
		case c.events <- ev:
			return
		default:
		}
		select {
		case <-c.events:
		default:
		}
	}
}
