// Package coach runs the live coaching loop: it listens to a capture device,
// commits complete utterances to the analyzer, records the results and
// speaks corrections back through a synthesis device.
//
// A [Coach] is driven by a single goroutine that owns all session state.
// At most one analysis (and its correction playback) is in flight at a time;
// utterances completed while the coach is busy are dropped, not queued.
//
//	c := coach.New(analyzer, capture, synth, coach.DefaultConfig())
//	if err := c.Start(ctx); err != nil { ... }
//	for u := range c.Updates() { ... }
//	stats := c.Stop()
package coach

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/observe"
)

var (
	// ErrNotRunning is returned by Pause and Resume when no session is active.
	ErrNotRunning = errors.New("coach: not running")

	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("coach: already running")
)

// ── Devices ──────────────────────────────────────────────────────────────────

// CaptureEvent is emitted by a [Capture] whenever its transcript changes.
type CaptureEvent struct {
	// Transcript is everything recognised since the last Reset.
	Transcript string

	// Confidence is the recognizer confidence as a fraction in 0..1, not a
	// percentage. The loop scales it to the 0..100 analysis confidence and
	// clamps out-of-range values.
	Confidence float64

	// IsFinal is true when the recognizer will not revise Transcript.
	IsFinal bool

	// Err reports a device failure. Transcript is empty when Err is set.
	Err error
}

// Capture is a speech recognition device. Its Events channel lives as long
// as the device and is shared across Start/Stop cycles. Adapters pass the
// recognizer's 0..1 confidence through unscaled; see [CaptureEvent.Confidence].
type Capture interface {
	Start(ctx context.Context) error
	Stop() error

	// Reset clears the accumulated transcript. Events emitted after Reset
	// carry only speech recognised after it.
	Reset()

	Events() <-chan CaptureEvent
}

// Synthesizer speaks text aloud. Speak blocks until playback finishes and
// must return promptly with ctx.Err() when ctx is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text string, rate float64) error
}

// Analyzer produces the coaching result for one utterance.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Analysis, error)
}

// ── State ────────────────────────────────────────────────────────────────────

// State is the externally visible loop state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateAnalyzing
	StatePaused
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAnalyzing:
		return "analyzing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ── Config ───────────────────────────────────────────────────────────────────

// Config tunes a coaching session.
type Config struct {
	// Level is the learner's CEFR level passed to the analyzer.
	Level string

	// AutoCorrect speaks a correction when mistakes are found. Requires
	// SpeakFeedback.
	AutoCorrect bool

	// SpeakFeedback enables all coach speech after an analysis.
	SpeakFeedback bool

	// Welcome speaks a greeting when the session starts.
	Welcome bool

	// SettleDelay is waited after a punctuated transcript before it is
	// committed, so a still-growing utterance is not cut short.
	SettleDelay time.Duration

	// SilenceCommit commits an unpunctuated transcript that has not changed
	// for this long. Zero disables it.
	SilenceCommit time.Duration

	// MinChars is the minimum number of non-space characters of an
	// utterance worth analysing.
	MinChars int

	// HistorySize bounds the turn history.
	HistorySize int

	// MuteWhileSpeaking stops capture during correction playback.
	MuteWhileSpeaking bool
}

// DefaultConfig returns the default session settings.
func DefaultConfig() Config {
	return Config{
		Level:             "B1",
		AutoCorrect:       true,
		SpeakFeedback:     true,
		Welcome:           true,
		SettleDelay:       500 * time.Millisecond,
		SilenceCommit:     2 * time.Second,
		MinChars:          3,
		HistorySize:       50,
		MuteWhileSpeaking: true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.MinChars <= 0 {
		c.MinChars = d.MinChars
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	return c
}

// ── Updates ──────────────────────────────────────────────────────────────────

// UpdateKind tells which field of an [Update] is set.
type UpdateKind string

const (
	UpdateState    UpdateKind = "state"
	UpdateAnalysis UpdateKind = "analysis"
	UpdateStats    UpdateKind = "stats"
	UpdateSpeech   UpdateKind = "speech"
	UpdateError    UpdateKind = "error"
)

// Update is a notification from the loop to the UI transport.
type Update struct {
	Kind     UpdateKind
	State    State
	Analysis *analysis.Analysis
	Stats    *SessionStats

	// Text is the line being spoken for UpdateSpeech.
	Text string

	// Err is the non-fatal failure for UpdateError.
	Err error
}

// ── Coach ────────────────────────────────────────────────────────────────────

// Option is a functional option for [New].
type Option func(*Coach)

// WithMetrics records loop metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coach) { c.metrics = m }
}

// WithUpdateBuffer sets the capacity of the updates channel. Updates are
// dropped when a slow consumer lets the buffer fill.
func WithUpdateBuffer(n int) Option {
	return func(c *Coach) {
		if n > 0 {
			c.updates = make(chan Update, n)
		}
	}
}

// Coach is a live coaching session controller. A Coach can run several
// sessions one after another; all exported methods are safe for concurrent
// use.
type Coach struct {
	cfg      Config
	analyzer Analyzer
	capture  Capture
	synth    Synthesizer
	metrics  *observe.Metrics
	updates  chan Update

	mu      sync.Mutex
	running bool
	state   State
	stats   SessionStats
	history *history
	cmds    chan command
	done    chan struct{}
	cancel  context.CancelFunc
}

// New creates an idle Coach. synth may be nil, in which case nothing is
// spoken.
func New(analyzer Analyzer, capture Capture, synth Synthesizer, cfg Config, opts ...Option) *Coach {
	cfg = cfg.withDefaults()
	c := &Coach{
		cfg:      cfg,
		analyzer: analyzer,
		capture:  capture,
		synth:    synth,
		updates:  make(chan Update, 64),
		history:  newHistory(cfg.HistorySize),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Updates returns the channel of loop notifications. It is never closed.
func (c *Coach) Updates() <-chan Update { return c.updates }

// Start begins a new session: it clears history and stats, starts capture
// and, when enabled, speaks the welcome line without waiting for it. A
// capture failure is reported as an [UpdateError] and does not fail Start;
// call Resume to retry. The session ends on Stop or when ctx is cancelled.
func (c *Coach) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s := newSession(uuid.NewString())
	c.running = true
	c.state = StateListening
	c.stats = s.tracker.snapshot()
	c.history = newHistory(c.cfg.HistorySize)
	c.cmds = make(chan command)
	c.done = make(chan struct{})
	c.cancel = cancel

	c.metrics.ActiveSessions.Add(ctx, 1)
	go c.run(loopCtx, s, c.cmds, c.done)
	return nil
}

// Stop ends the session, interrupting playback and any in-flight analysis,
// and returns the final stats. Stopping an idle coach returns the stats of
// the last session.
func (c *Coach) Stop() SessionStats {
	c.mu.Lock()
	if !c.running {
		stats := c.stats.clone()
		c.mu.Unlock()
		return stats
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.clone()
}

// Pause stops capture without ending the session. Utterances are ignored
// until Resume.
func (c *Coach) Pause() error { return c.send(cmdPause) }

// Resume restarts capture after Pause or after a capture failure.
func (c *Coach) Resume() error { return c.send(cmdResume) }

// State returns the current loop state.
func (c *Coach) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the current (or last) session stats.
func (c *Coach) Stats() SessionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.clone()
}

// History returns the recorded turns, oldest first.
func (c *Coach) History() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.list()
}

type cmdKind int

const (
	cmdPause cmdKind = iota
	cmdResume
)

type command struct {
	kind  cmdKind
	reply chan error
}

func (c *Coach) send(kind cmdKind) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	cmds, done := c.cmds, c.done
	c.mu.Unlock()

	reply := make(chan error, 1)
	select {
	case cmds <- command{kind: kind, reply: reply}:
	case <-done:
		return ErrNotRunning
	}
	select {
	case err := <-reply:
		return err
	case <-done:
		return ErrNotRunning
	}
}

// publish delivers u without blocking the loop.
func (c *Coach) publish(u Update) {
	select {
	case c.updates <- u:
	default:
	}
}
