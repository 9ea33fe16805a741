// Package app wires the speakwell subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the analyzer, the
// optional assistant, the live session manager and the HTTP server; Run
// serves until the context is cancelled; Shutdown stops live sessions and
// drains in-flight requests. ApplyConfig is the hot-reload hook handed to a
// [config.Watcher].
//
// For testing, inject test doubles via functional options (WithMetrics,
// WithLogLevel). Providers come from [BuildProviders] or are built by hand.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/assistant"
	"github.com/MrWong99/speakwell/internal/coach"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/health"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/resilience"
	"github.com/MrWong99/speakwell/internal/server"
	"github.com/MrWong99/speakwell/pkg/provider/stt"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
)

// App owns all subsystem lifetimes of the coaching server.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics    *observe.Metrics
	metricsH   http.Handler
	logLevel   *slog.LevelVar
	analyzer   *analysis.Analyzer
	assistant  *assistant.Client
	sessions   *SessionManager
	httpServer *http.Server

	mu  sync.Mutex
	cur *config.Config

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithLogLevel hands the app the level variable of the process logger so
// that log level changes can be applied at runtime.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and providers. Any provider may be nil: without
// an LLM the analyzer runs on rules only, and without STT live clients must
// send transcripts instead of audio.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, cur: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Assistant ─────────────────────────────────────────────────────
	if err := a.initAssistant(); err != nil {
		return nil, fmt.Errorf("app: init assistant: %w", err)
	}

	// ── 2. Analyzer ──────────────────────────────────────────────────────
	as := cfg.Assistant
	analyzerOpts := []analysis.Option{
		analysis.WithMaxTranscriptLen(cfg.Server.MaxTranscriptLen),
		analysis.WithTimeouts(as.GrammarTimeout, as.FeedbackTimeout, as.ExercisesTimeout),
		analysis.WithMetrics(a.metrics),
	}
	if as.Enabled && a.assistant != nil {
		analyzerOpts = append(analyzerOpts, analysis.WithAssistant(a.assistant))
	}
	a.analyzer = analysis.New(analyzerOpts...)

	// ── 3. Live sessions ─────────────────────────────────────────────────
	a.sessions = NewSessionManager(a.analyzer, CoachConfig(cfg.Coach), a.metrics)

	// ── 4. HTTP server ───────────────────────────────────────────────────
	a.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.buildServer().Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	slog.Info("app initialised",
		"assistant", a.assistant != nil && as.Enabled,
		"live_audio", providers.STT != nil,
		"level", a.sessions.Config().Level,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initAssistant builds the assistant client when an LLM is configured. The
// client is built even when the assistant is disabled so that enabling it
// later is a hot reload.
func (a *App) initAssistant() error {
	if a.providers.LLM == nil {
		return nil
	}
	as := a.cfg.Assistant
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "assistant",
		MaxFailures:  as.Breaker.MaxFailures,
		ResetTimeout: as.Breaker.ResetTimeout,
	})
	client, err := assistant.New(a.providers.LLM,
		assistant.WithTemperature(as.Temperature),
		assistant.WithBreaker(breaker),
	)
	if err != nil {
		return err
	}
	a.assistant = client
	return nil
}

func (a *App) buildServer() *server.Server {
	checks := []health.Checker{{
		Name:  "rules",
		Check: func(context.Context) error { return nil },
	}}
	if a.assistant != nil {
		checks = append(checks, health.BreakerChecker("assistant", a.assistant.Breaker(), true))
	}
	for _, slot := range []struct {
		name string
		p    any
	}{{"llm", a.providers.LLM}, {"stt", a.providers.STT}, {"tts", a.providers.TTS}} {
		if g, ok := slot.p.(health.FallbackGroup); ok {
			checks = append(checks, health.FallbackChecker(slot.name, g, true))
		}
	}

	opts := []server.Option{
		server.WithLiveSessions(a.sessions),
		server.WithHealth(health.New(checks...)),
		server.WithMetrics(a.metrics),
		server.WithRateLimits(a.cfg.Server.RateLimits),
		server.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
	}
	if a.metricsH != nil {
		opts = append(opts, server.WithMetricsHandler(a.metricsH))
	}
	if a.providers.STT != nil {
		entry := a.cfg.Providers.STT
		opts = append(opts, server.WithSpeechRecognizer(a.providers.STTName, a.providers.STT, stt.StreamConfig{
			SampleRate: entry.OptionInt("sample_rate", 16000),
			Channels:   1,
			Language:   entry.OptionString("language", "en-US"),
		}))
	}
	return server.New(a.analyzer, opts...)
}

// CoachConfig converts the coach config block into session settings. Unset
// values keep the [coach.DefaultConfig] defaults.
func CoachConfig(cc config.CoachConfig) coach.Config {
	cfg := coach.DefaultConfig()
	if cc.Level != "" {
		cfg.Level = cc.Level
	}
	cfg.AutoCorrect = config.Flag(cc.AutoCorrect)
	cfg.SpeakFeedback = config.Flag(cc.SpeakFeedback)
	cfg.Welcome = config.Flag(cc.Welcome)
	cfg.MuteWhileSpeaking = config.Flag(cc.MuteWhileSpeaking)
	if cc.SettleDelay > 0 {
		cfg.SettleDelay = cc.SettleDelay
	}
	if cc.SilenceCommit != nil {
		cfg.SilenceCommit = *cc.SilenceCommit
	}
	if cc.HistorySize > 0 {
		cfg.HistorySize = cc.HistorySize
	}
	return cfg
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Analyzer returns the analysis façade used by the server.
func (a *App) Analyzer() *analysis.Analyzer { return a.analyzer }

// Sessions returns the live session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.httpServer.Handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then stops accepting
// connections. Live sessions are ended by Shutdown, not by Serve.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	tls := a.cfg.Server.TLS
	slog.Info("app running", "addr", ln.Addr().String(), "tls", tls != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls != nil {
			err = a.httpServer.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next and logs the rest as
// requiring a restart. It has the signature of a [config.Watcher] callback.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("config: log level changed", "level", d.NewLogLevel)
	}
	if d.CoachChanged {
		a.sessions.SetConfig(CoachConfig(next.Coach))
		slog.Info("config: coach settings changed, applied to new sessions")
	}
	if d.AssistantToggled {
		switch {
		case !d.AssistantEnabled:
			a.analyzer.SetAssistant(nil)
			slog.Info("config: assistant disabled")
		case a.assistant != nil:
			a.analyzer.SetAssistant(a.assistant)
			slog.Info("config: assistant enabled")
		default:
			slog.Warn("config: assistant enabled but no llm provider was configured at startup")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: changes require a restart", "sections", d.RestartRequired)
	}

	a.mu.Lock()
	a.cur = next
	a.mu.Unlock()
}

// Config returns the most recently applied config.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur
}

// SlogLevel maps a config log level to a [slog.Level]; unknown values map to
// info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops every live session and then drains the HTTP server. It
// respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "live_sessions", a.sessions.Active())

		done := make(chan struct{})
		go func() {
			a.sessions.StopAll()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while stopping sessions")
			shutdownErr = ctx.Err()
			return
		}

		if err := a.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("app: http shutdown: %w", err)
			return
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
