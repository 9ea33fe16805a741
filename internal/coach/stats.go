package coach

import (
	"maps"
	"slices"
	"time"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/grammar"
	"github.com/MrWong99/speakwell/internal/scoring"
)

// improvementWindow is the number of analysed utterances a mistake type must
// stay absent before it counts as an improvement.
const improvementWindow = 3

// SessionStats summarises one coaching session.
type SessionStats struct {
	SessionID         string                    `json:"sessionId"`
	StartedAt         time.Time                 `json:"startedAt"`
	DurationMs        int64                     `json:"durationMs"`
	TotalSentences    int                       `json:"totalSentences"`
	TotalErrors       int                       `json:"totalErrors"`
	AverageScore      int                       `json:"averageScore"`
	BestScore         int                       `json:"bestScore"`
	ErrorsByType      map[grammar.ErrorType]int `json:"errorsByType"`
	Improvements      []string                  `json:"improvements"`
	CorrectionsSpoken int                       `json:"correctionsSpoken"`
	DroppedBusy       int                       `json:"droppedBusy"`
}

func (s SessionStats) clone() SessionStats {
	s.ErrorsByType = maps.Clone(s.ErrorsByType)
	s.Improvements = slices.Clone(s.Improvements)
	return s
}

// tracker accumulates SessionStats. The running mean is kept as a sum so
// AverageScore is always the rounded mean of every score, not a mean of
// rounded means.
type tracker struct {
	stats    SessionStats
	sum      float64
	lastSeen map[grammar.ErrorType]int
	improved map[grammar.ErrorType]bool
}

func newTracker(id string, now time.Time) *tracker {
	return &tracker{
		stats: SessionStats{
			SessionID:    id,
			StartedAt:    now,
			ErrorsByType: make(map[grammar.ErrorType]int),
			Improvements: []string{},
		},
		lastSeen: make(map[grammar.ErrorType]int),
		improved: make(map[grammar.ErrorType]bool),
	}
}

func (t *tracker) record(a *analysis.Analysis) {
	t.stats.TotalSentences++
	n := t.stats.TotalSentences

	t.sum += float64(a.Score)
	t.stats.AverageScore = scoring.Round(t.sum / float64(n))
	t.stats.BestScore = max(t.stats.BestScore, a.Score)
	t.stats.TotalErrors += len(a.Errors)

	for _, e := range a.Errors {
		t.stats.ErrorsByType[e.Type]++
		t.lastSeen[e.Type] = n
	}

	// Map order is random; sort so improvements found in the same turn are
	// listed deterministically.
	for _, typ := range slices.Sorted(maps.Keys(t.lastSeen)) {
		if t.improved[typ] || n-t.lastSeen[typ] < improvementWindow {
			continue
		}
		t.improved[typ] = true
		t.stats.Improvements = append(t.stats.Improvements, "Fewer "+typ.Label()+" mistakes")
	}
}

func (t *tracker) correctionSpoken() { t.stats.CorrectionsSpoken++ }

func (t *tracker) droppedBusy() { t.stats.DroppedBusy++ }

func (t *tracker) finish(now time.Time) {
	t.stats.DurationMs = now.Sub(t.stats.StartedAt).Milliseconds()
}

func (t *tracker) snapshot() SessionStats { return t.stats.clone() }

// ── History ──────────────────────────────────────────────────────────────────

// Turn is one analysed utterance of a session.
type Turn struct {
	Timestamp        time.Time          `json:"timestamp"`
	Transcript       string             `json:"transcript"`
	Analysis         *analysis.Analysis `json:"analysis"`
	CorrectionSpoken bool               `json:"correctionSpoken"`
}

// history is a fixed-size ring of turns; the oldest turn is overwritten.
type history struct {
	buf   []Turn
	start int
	n     int
}

func newHistory(size int) *history {
	return &history{buf: make([]Turn, size)}
}

func (h *history) add(t Turn) {
	if len(h.buf) == 0 {
		return
	}
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = t
		h.n++
		return
	}
	h.buf[h.start] = t
	h.start = (h.start + 1) % len(h.buf)
}

// markSpoken flags the newest turn.
func (h *history) markSpoken() {
	if h.n == 0 {
		return
	}
	h.buf[(h.start+h.n-1)%len(h.buf)].CorrectionSpoken = true
}

func (h *history) list() []Turn {
	out := make([]Turn, h.n)
	for i := range h.n {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}
