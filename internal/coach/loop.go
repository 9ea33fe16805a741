package coach

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/observe"
)

// session is the loop-private state of one coaching session. Only the loop
// goroutine touches it.
type session struct {
	id      string
	tracker *tracker
	echo    echoFilter

	busy   bool
	paused bool

	buffer        string
	confidence    float64
	lastProcessed string
	lastDropped   string

	settle  *time.Timer
	silence *time.Timer

	analyzeCancel context.CancelFunc
	results       chan result
	play          *playback
}

type result struct {
	transcript string
	analysis   *analysis.Analysis
	err        error
}

// playback is the one active synthesis. correction is false for the
// welcome line, which does not hold the busy flag.
type playback struct {
	cancel     context.CancelFunc
	done       chan error
	correction bool
}

func newSession(id string) *session {
	return &session{
		id:      id,
		tracker: newTracker(id, time.Now()),
		results: make(chan result, 1),
		settle:  newStoppedTimer(),
		silence: newStoppedTimer(),
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

func (s *session) playDone() <-chan error {
	if s.play == nil {
		return nil
	}
	return s.play.done
}

// run is the loop goroutine.
func (c *Coach) run(ctx context.Context, s *session, cmds <-chan command, done chan struct{}) {
	ctx = observe.WithSessionID(ctx, s.id)
	log := observe.Logger(ctx)
	log.Info("coach: session started", "level", c.cfg.Level)

	c.capture.Reset()
	if err := c.capture.Start(ctx); err != nil {
		c.deviceError(log, "start capture", err)
	}
	c.publish(Update{Kind: UpdateState, State: StateListening})
	if c.cfg.Welcome && c.synth != nil {
		c.startPlayback(ctx, s, WelcomeLine, praiseRate, false)
	}

	events := c.capture.Events()
	for {
		select {
		case <-ctx.Done():
			c.shutdown(s, log)
			close(done)
			return

		case cmd := <-cmds:
			cmd.reply <- c.handleCommand(ctx, s, log, cmd.kind)

		case ev, ok := <-events:
			if !ok {
				events = nil
				c.deviceError(log, "capture", errors.New("coach: capture device closed"))
				continue
			}
			c.handleEvent(ctx, s, log, ev)

		case <-s.settle.C:
			if endsTerminal(s.buffer) {
				c.tryCommit(ctx, s, log)
			}

		case <-s.silence.C:
			if c.cfg.SilenceCommit > 0 && s.buffer != "" {
				c.tryCommit(ctx, s, log)
			}

		case r := <-s.results:
			c.handleResult(ctx, s, log, r)

		case err := <-s.playDone():
			correction := s.play.correction
			s.play.cancel()
			s.play = nil
			c.playbackFinished(ctx, s, log, err, correction)
		}
	}
}

func (c *Coach) handleCommand(ctx context.Context, s *session, log *slog.Logger, kind cmdKind) error {
	switch kind {
	case cmdPause:
		if s.paused {
			return nil
		}
		s.paused = true
		s.settle.Stop()
		s.silence.Stop()
		if err := c.capture.Stop(); err != nil {
			c.deviceError(log, "stop capture", err)
		}
		c.setState(s)
		log.Debug("coach: paused")
	case cmdResume:
		s.paused = false
		s.buffer = ""
		s.lastProcessed = ""
		c.capture.Reset()
		if err := c.capture.Start(ctx); err != nil {
			c.deviceError(log, "start capture", err)
			return err
		}
		c.setState(s)
		log.Debug("coach: resumed")
	}
	return nil
}

func (c *Coach) handleEvent(ctx context.Context, s *session, log *slog.Logger, ev CaptureEvent) {
	if ev.Err != nil {
		c.deviceError(log, "capture", ev.Err)
		return
	}
	if s.paused {
		return
	}
	if ev.Transcript == s.buffer {
		return
	}
	s.buffer = ev.Transcript
	s.confidence = ev.Confidence

	if !endsTerminal(s.buffer) {
		s.settle.Stop()
		if c.cfg.SilenceCommit > 0 && s.buffer != "" {
			s.silence.Reset(c.cfg.SilenceCommit)
		}
		return
	}
	s.silence.Stop()
	if s.buffer == s.lastProcessed {
		return
	}
	if s.busy {
		c.dropBusy(ctx, s, log)
		return
	}
	s.settle.Reset(c.cfg.SettleDelay)
}

// tryCommit commits the buffer unless it was already processed or an
// analysis is in flight.
func (c *Coach) tryCommit(ctx context.Context, s *session, log *slog.Logger) {
	if s.paused || s.buffer == s.lastProcessed {
		return
	}
	if s.busy {
		c.dropBusy(ctx, s, log)
		return
	}

	raw := s.buffer
	text := s.echo.strip(raw)
	if text == "" {
		log.Debug("coach: discarded coach echo", "transcript", raw)
		c.metrics.RecordUtterance(ctx, observe.OutcomeEcho)
		c.capture.Reset()
		s.buffer = ""
		s.lastProcessed = ""
		return
	}
	s.lastProcessed = raw
	if nonSpaceLen(text) < c.cfg.MinChars {
		c.metrics.RecordUtterance(ctx, observe.OutcomeTooShort)
		return
	}

	s.busy = true
	c.setState(s)

	actx, cancel := context.WithCancel(ctx)
	s.analyzeCancel = cancel
	req := analysis.Request{
		Transcript: text,
		Confidence: min(max(s.confidence, 0), 1) * 100,
		Level:      c.cfg.Level,
	}
	go func() {
		a, err := c.analyzer.Analyze(actx, req)
		s.results <- result{transcript: text, analysis: a, err: err}
	}()
}

func (c *Coach) dropBusy(ctx context.Context, s *session, log *slog.Logger) {
	if s.buffer == s.lastDropped {
		return
	}
	s.lastDropped = s.buffer
	s.tracker.droppedBusy()
	c.metrics.RecordUtterance(ctx, observe.OutcomeBusy)
	log.Debug("coach: utterance dropped while busy", "transcript", s.buffer)
}

func (c *Coach) handleResult(ctx context.Context, s *session, log *slog.Logger, r result) {
	s.analyzeCancel()
	s.analyzeCancel = nil

	if r.err != nil {
		c.metrics.RecordUtterance(ctx, observe.OutcomeFailed)
		log.Warn("coach: analysis failed", "err", r.err)
		c.publish(Update{Kind: UpdateError, Err: r.err})
		c.finishTurn(s)
		return
	}

	c.metrics.RecordUtterance(ctx, observe.OutcomeAnalyzed)
	s.tracker.record(r.analysis)
	stats := s.tracker.snapshot()

	c.mu.Lock()
	c.stats = stats
	c.history.add(Turn{Timestamp: time.Now(), Transcript: r.transcript, Analysis: r.analysis})
	c.mu.Unlock()

	c.publish(Update{Kind: UpdateAnalysis, Analysis: r.analysis})
	c.publish(Update{Kind: UpdateStats, Stats: &stats})

	text, rate, ok := c.speechFor(r.analysis)
	if !ok {
		c.finishTurn(s)
		return
	}
	if c.cfg.MuteWhileSpeaking {
		if err := c.capture.Stop(); err != nil {
			c.deviceError(log, "stop capture", err)
		}
	}
	c.startPlayback(ctx, s, text, rate, true)
}

// startPlayback interrupts any active playback and speaks text.
func (c *Coach) startPlayback(ctx context.Context, s *session, text string, rate float64, correction bool) {
	if s.play != nil {
		s.play.cancel()
		<-s.play.done
		s.play = nil
	}
	s.echo.remember(text)
	c.publish(Update{Kind: UpdateSpeech, Text: text})

	pctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	s.play = &playback{cancel: cancel, done: done, correction: correction}
	go func() {
		start := time.Now()
		err := c.synth.Speak(pctx, text, rate)
		c.metrics.TTSDuration.Record(pctx, time.Since(start).Seconds())
		done <- err
	}()
}

func (c *Coach) playbackFinished(ctx context.Context, s *session, log *slog.Logger, err error, correction bool) {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("coach: speech failed", "err", err)
	}
	if !correction {
		return
	}
	if err == nil {
		s.tracker.correctionSpoken()
		stats := s.tracker.snapshot()
		c.mu.Lock()
		c.stats = stats
		c.history.markSpoken()
		c.mu.Unlock()
	}
	if c.cfg.MuteWhileSpeaking && !s.paused {
		c.capture.Reset()
		if err := c.capture.Start(ctx); err != nil {
			c.deviceError(log, "start capture", err)
		}
	}
	c.finishTurn(s)
}

// finishTurn clears the busy flag and starts a clean utterance.
func (c *Coach) finishTurn(s *session) {
	c.capture.Reset()
	s.buffer = ""
	s.lastProcessed = ""
	s.lastDropped = ""
	s.settle.Stop()
	s.silence.Stop()
	s.busy = false
	c.setState(s)
}

func (c *Coach) shutdown(s *session, log *slog.Logger) {
	if s.play != nil {
		s.play.cancel()
		<-s.play.done
		s.play = nil
	}
	if s.analyzeCancel != nil {
		s.analyzeCancel()
		s.analyzeCancel = nil
	}
	s.settle.Stop()
	s.silence.Stop()
	if err := c.capture.Stop(); err != nil {
		log.Warn("coach: stop capture", "err", err)
	}
	s.busy = false
	s.tracker.finish(time.Now())
	stats := s.tracker.snapshot()

	c.mu.Lock()
	c.running = false
	c.state = StateIdle
	c.stats = stats
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(context.Background(), -1)
	c.publish(Update{Kind: UpdateState, State: StateIdle})
	c.publish(Update{Kind: UpdateStats, Stats: &stats})
	log.Info("coach: session stopped",
		"sentences", stats.TotalSentences,
		"average_score", stats.AverageScore,
		"duration_ms", stats.DurationMs,
	)
}

// setState derives the visible state from the session flags and publishes
// it when it changed.
func (c *Coach) setState(s *session) {
	state := StateListening
	switch {
	case s.paused:
		state = StatePaused
	case s.busy:
		state = StateAnalyzing
	}

	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()
	if changed {
		c.publish(Update{Kind: UpdateState, State: state})
	}
}

func (c *Coach) deviceError(log *slog.Logger, op string, err error) {
	log.Warn("coach: device error", "op", op, "err", err)
	c.publish(Update{Kind: UpdateError, Err: err})
}
