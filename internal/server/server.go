// Package server exposes the coaching core over HTTP.
//
// The JSON endpoints under /v1 wrap [analysis.Analyzer]; GET /v1/live
// upgrades to a WebSocket that drives a [coach.Coach] with the browser as
// the capture and synthesis device. Health, readiness and Prometheus
// metrics are mounted alongside. Every request passes through
// [observe.Middleware].
package server

import (
	"context"
	"net/http"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/coach"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/health"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/pkg/provider/stt"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// LiveSessions starts and stops live coaching sessions on behalf of the
// WebSocket handler.
type LiveSessions interface {
	// Start creates and starts a coach wired to capture and synth. level
	// overrides the configured level when non-empty. The returned id is
	// the session id.
	Start(ctx context.Context, capture coach.Capture, synth coach.Synthesizer, level, remote string) (string, *coach.Coach, error)

	// Stop ends the session and forgets it.
	Stop(id string) (coach.SessionStats, error)
}

// Server routes HTTP requests to the coaching core. Create one with [New].
type Server struct {
	analyzer  *analysis.Analyzer
	sessions  LiveSessions
	health    *health.Handler
	metrics   *observe.Metrics
	promHTTP  http.Handler
	analyzeRL *ipLimiter
	exerRL    *ipLimiter
	origins   []string

	recognizer   stt.Provider
	recognizerID string
	streamCfg    stt.StreamConfig
}

// Option is a functional option for [New].
type Option func(*Server)

// WithLiveSessions enables GET /v1/live.
func WithLiveSessions(ls LiveSessions) Option {
	return func(s *Server) { s.sessions = ls }
}

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics records HTTP metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.promHTTP = h }
}

// WithRateLimits throttles /v1/analyze and /v1/exercises per client IP.
func WithRateLimits(rl config.RateLimitsConfig) Option {
	return func(s *Server) {
		s.analyzeRL = newIPLimiter(rl.Analyze)
		s.exerRL = newIPLimiter(rl.Exercises)
	}
}

// WithOriginPatterns lists extra hosts allowed to open /v1/live from a
// browser page served elsewhere (e.g. "localhost:5173").
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// WithSpeechRecognizer lets live clients stream raw PCM instead of
// transcripts; audio is transcribed by p.
func WithSpeechRecognizer(name string, p stt.Provider, cfg stt.StreamConfig) Option {
	return func(s *Server) {
		s.recognizer = p
		s.recognizerID = name
		s.streamCfg = cfg
	}
}

// New creates a [Server] backed by analyzer.
func New(analyzer *analysis.Analyzer, opts ...Option) *Server {
	s := &Server{analyzer: analyzer}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the root handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/analyze", s.analyzeRL.wrap(s.handleAnalyze))
	mux.HandleFunc("POST /v1/correct", s.handleCorrect)
	mux.HandleFunc("POST /v1/exercises", s.exerRL.wrap(s.handleExercises))
	mux.HandleFunc("GET /v1/rules", s.handleRules)
	if s.sessions != nil {
		mux.HandleFunc("GET /v1/live", s.handleLive)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.promHTTP != nil {
		mux.Handle("GET /metrics", s.promHTTP)
	}

	return observe.Middleware(s.metrics)(mux)
}
