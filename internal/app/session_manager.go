package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/speakwell/internal/coach"
	"github.com/MrWong99/speakwell/internal/feedback"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/server"
)

var _ server.LiveSessions = (*SessionManager)(nil)

// SessionInfo holds metadata about an active live session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// Level is the CEFR level the session coaches at.
	Level feedback.Level

	// StartedAt is when the session was started.
	StartedAt time.Time

	// Remote is the network address of the client that started it.
	Remote string
}

type liveSession struct {
	info  SessionInfo
	coach *coach.Coach
}

// SessionManager owns every running live coaching session. Each session gets
// its own [coach.Coach] built from the current session defaults, which can be
// replaced at runtime with SetConfig. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	analyzer coach.Analyzer
	metrics  *observe.Metrics

	mu       sync.Mutex
	cfg      coach.Config
	sessions map[string]*liveSession
}

// NewSessionManager creates a SessionManager that analyses with analyzer and
// starts sessions with cfg.
func NewSessionManager(analyzer coach.Analyzer, cfg coach.Config, metrics *observe.Metrics) *SessionManager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SessionManager{
		analyzer: analyzer,
		metrics:  metrics,
		cfg:      cfg,
		sessions: make(map[string]*liveSession),
	}
}

// SetConfig replaces the defaults for sessions started from now on. Running
// sessions keep their settings.
func (sm *SessionManager) SetConfig(cfg coach.Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg = cfg
}

// Config returns the current session defaults.
func (sm *SessionManager) Config() coach.Config {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.cfg
}

// Start creates a coach on the given devices and starts it. A non-empty
// level overrides the configured one. The session ends on Stop, StopAll or
// when ctx is cancelled.
func (sm *SessionManager) Start(ctx context.Context, capture coach.Capture, synth coach.Synthesizer, level, remote string) (string, *coach.Coach, error) {
	cfg := sm.Config()
	if level != "" {
		lvl, err := feedback.ParseLevel(level)
		if err != nil {
			return "", nil, fmt.Errorf("session: %w", err)
		}
		cfg.Level = string(lvl)
	}

	c := coach.New(sm.analyzer, capture, synth, cfg, coach.WithMetrics(sm.metrics))
	if err := c.Start(ctx); err != nil {
		return "", nil, fmt.Errorf("session: start coach: %w", err)
	}
	stats := c.Stats()

	sm.mu.Lock()
	sm.sessions[stats.SessionID] = &liveSession{
		info: SessionInfo{
			SessionID: stats.SessionID,
			Level:     feedback.Level(cfg.Level),
			StartedAt: stats.StartedAt,
			Remote:    remote,
		},
		coach: c,
	}
	active := len(sm.sessions)
	sm.mu.Unlock()

	slog.Info("session started",
		"session_id", stats.SessionID,
		"level", cfg.Level,
		"remote", remote,
		"active", active,
	)
	return stats.SessionID, c, nil
}

// Stop ends the session with the given id and returns its final stats.
func (sm *SessionManager) Stop(id string) (coach.SessionStats, error) {
	sm.mu.Lock()
	ls, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()

	if !ok {
		return coach.SessionStats{}, fmt.Errorf("session: no active session %q", id)
	}
	stats := ls.coach.Stop()
	slog.Info("session stopped",
		"session_id", id,
		"sentences", stats.TotalSentences,
		"average_score", stats.AverageScore,
	)
	return stats, nil
}

// StopAll ends every running session.
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	all := sm.sessions
	sm.sessions = make(map[string]*liveSession)
	sm.mu.Unlock()

	var wg sync.WaitGroup
	for _, ls := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ls.coach.Stop()
		}()
	}
	wg.Wait()
	if len(all) > 0 {
		slog.Info("stopped all sessions", "count", len(all))
	}
}

// List returns metadata about every running session, in no particular order.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, ls := range sm.sessions {
		out = append(out, ls.info)
	}
	return out
}

// Active reports the number of running sessions.
func (sm *SessionManager) Active() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}
