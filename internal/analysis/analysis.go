// Package analysis is the single entry point that turns a spoken transcript
// into a coaching result.
//
// [Analyzer.Analyze] runs the rule-based pipeline (detect, rewrite, score,
// feedback, exercises) and, when an [Assistant] is attached, merges its
// review into the result. The assistant is strictly best-effort: every call
// runs under its own timeout and any failure leaves the rule-based result
// untouched.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakwell/internal/feedback"
	"github.com/MrWong99/speakwell/internal/grammar"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/scoring"
)

// DefaultMaxTranscriptLen is the default cap, in characters, on transcripts
// accepted by [Analyzer.Analyze] and [Analyzer.Correct].
const DefaultMaxTranscriptLen = 1000

var (
	// ErrEmptyInput is returned by [Analyzer.Correct] for blank input.
	ErrEmptyInput = errors.New("analysis: empty input")

	// ErrTranscriptTooLong is returned when the input exceeds the configured
	// length cap. No rule is run on rejected input.
	ErrTranscriptTooLong = errors.New("analysis: transcript too long")

	// ErrInvalidLevel is returned for a level outside A1..C1.
	ErrInvalidLevel = errors.New("analysis: invalid level")
)

// Source tells which engine produced an analysis.
type Source string

const (
	SourceRules     Source = "rules"
	SourceAssistant Source = "rules+assistant"
)

// Request is the input to [Analyzer.Analyze].
type Request struct {
	// Transcript is the recognised utterance.
	Transcript string

	// Confidence is the recognizer confidence in 0..100.
	Confidence float64

	// Level is the learner's target level. Empty means [feedback.DefaultLevel].
	Level string

	// Expected is an optional sentence the learner was asked to say.
	Expected string
}

// Analysis is the coaching result for one utterance.
type Analysis struct {
	OriginalTranscript string                  `json:"originalTranscript"`
	CorrectedSentence  string                  `json:"correctedSentence,omitempty"`
	Errors             []grammar.DetectedError `json:"errors"`
	Score              int                     `json:"score"`
	FluencyScore       int                     `json:"fluencyScore"`
	GrammarScore       int                     `json:"grammarScore"`
	PronunciationScore int                     `json:"pronunciationScore"`
	Feedback           string                  `json:"feedback"`
	Recommendations    []string                `json:"recommendations"`
	SuggestedExercises []feedback.Exercise     `json:"suggestedExercises"`
	Level              feedback.Level          `json:"level"`
	Source             Source                  `json:"source"`

	// TargetMatch is the similarity (0..100) between the transcript and the
	// expected sentence, present only when one was given.
	TargetMatch *int `json:"targetMatch,omitempty"`
}

// Option is a functional option for [New].
type Option func(*Analyzer)

// WithRules replaces the built-in rule table.
func WithRules(t grammar.Table) Option {
	return func(a *Analyzer) { a.rules = t }
}

// WithAssistant attaches an external assistant. A nil assistant disables it.
func WithAssistant(as Assistant) Option {
	return func(a *Analyzer) { a.assistant = as }
}

// WithMaxTranscriptLen sets the input length cap in characters.
func WithMaxTranscriptLen(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxLen = n
		}
	}
}

// WithTimeouts sets the per-call assistant timeouts. Zero values keep the
// defaults (10s review, 8s feedback, 15s exercises).
func WithTimeouts(review, enhance, exercises time.Duration) Option {
	return func(a *Analyzer) {
		if review > 0 {
			a.reviewTimeout = review
		}
		if enhance > 0 {
			a.enhanceTimeout = enhance
		}
		if exercises > 0 {
			a.exercisesTimeout = exercises
		}
	}
}

// WithMetrics records analysis metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// Analyzer runs the analysis pipeline. It is safe for concurrent use.
type Analyzer struct {
	rules            grammar.Table
	maxLen           int
	reviewTimeout    time.Duration
	enhanceTimeout   time.Duration
	exercisesTimeout time.Duration
	metrics          *observe.Metrics

	mu        sync.RWMutex
	assistant Assistant
}

// New creates an [Analyzer] with the built-in rule table and no assistant.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		rules:            grammar.Default(),
		maxLen:           DefaultMaxTranscriptLen,
		reviewTimeout:    10 * time.Second,
		enhanceTimeout:   8 * time.Second,
		exercisesTimeout: 15 * time.Second,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// SetAssistant swaps the attached assistant at runtime. Passing nil detaches
// it. Analyses already running keep the assistant they started with.
func (a *Analyzer) SetAssistant(as Assistant) {
	a.mu.Lock()
	a.assistant = as
	a.mu.Unlock()
}

func (a *Analyzer) currentAssistant() Assistant {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.assistant
}

// Rules returns the rule table in use.
func (a *Analyzer) Rules() grammar.Table { return a.rules }

// Analyze produces the coaching result for req.
//
// A blank transcript yields a canned zero-score result, even when the level
// is not valid. A transcript longer than the cap is rejected with
// [ErrTranscriptTooLong] before any rule runs.
// Assistant failures never fail the call.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		level, err := feedback.ParseLevel(req.Level)
		if err != nil {
			level = feedback.DefaultLevel
		}
		return noSpeech(req.Transcript, level), nil
	}
	level, err := parseLevel(req.Level)
	if err != nil {
		return nil, err
	}
	if err := a.checkLength(req.Transcript); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "analysis.Analyze")
	defer span.End()

	transcript := req.Transcript
	as := a.currentAssistant()

	var (
		errs   []grammar.DetectedError
		review *Review
	)

	eg, egCtx := errgroup.WithContext(ctx)

	// ── goroutine 1: rule-based detection ────────────────────────────────────
	eg.Go(func() error {
		errs = a.rules.Detect(transcript)
		return nil
	})

	// ── goroutine 2: assistant review (best-effort) ──────────────────────────
	if as != nil {
		eg.Go(func() error {
			review = a.review(egCtx, as, transcript, level)
			return nil
		})
	}

	_ = eg.Wait()

	result := &Analysis{
		OriginalTranscript: transcript,
		Level:              level,
		Source:             SourceRules,
	}

	corrected := grammar.Rewrite(transcript, errs)
	if review != nil {
		errs = append(errs, locate(transcript, review.Errors)...)
		if review.CorrectedSentence != "" {
			corrected = review.CorrectedSentence
		} else {
			corrected = grammar.Rewrite(transcript, errs)
		}
		result.Source = SourceAssistant
	}
	if corrected != transcript {
		result.CorrectedSentence = corrected
	}
	if errs == nil {
		errs = []grammar.DetectedError{}
	}
	result.Errors = errs

	scores := scoring.Score(transcript, errs, req.Confidence)
	result.Score, result.GrammarScore, result.PronunciationScore, result.FluencyScore = scores.Rounded()

	result.Feedback = feedback.Feedback(result.Score, errs)
	if as != nil {
		if enhanced := a.enhance(ctx, as, FeedbackRequest{
			Transcript:    transcript,
			Errors:        errs,
			Grammar:       result.GrammarScore,
			Pronunciation: result.PronunciationScore,
			Fluency:       result.FluencyScore,
			Level:         level,
		}); enhanced != "" {
			result.Feedback = enhanced
		}
	}

	result.Recommendations = feedback.Recommendations(errs, scores.Fluency, scores.Pronunciation)
	result.SuggestedExercises = feedback.Exercises(errs, level)

	if strings.TrimSpace(req.Expected) != "" {
		m := TargetMatch(transcript, req.Expected)
		result.TargetMatch = &m
	}

	a.record(ctx, result, time.Since(start))
	observe.Logger(ctx).Debug("analysis: completed",
		"errors", len(errs),
		"score", result.Score,
		"source", result.Source,
		"duration", time.Since(start),
	)
	return result, nil
}

func (a *Analyzer) record(ctx context.Context, r *Analysis, d time.Duration) {
	a.metrics.AnalysisDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("source", string(r.Source))))
	for _, e := range r.Errors {
		a.metrics.RecordDetectedError(ctx, string(e.Type))
	}
}

func (a *Analyzer) checkLength(text string) error {
	if n := utf8.RuneCountInString(text); n > a.maxLen {
		slog.Debug("analysis: rejected oversized input", "len", n, "max", a.maxLen)
		return fmt.Errorf("%w: %d characters (max %d)", ErrTranscriptTooLong, n, a.maxLen)
	}
	return nil
}

func parseLevel(s string) (feedback.Level, error) {
	level, err := feedback.ParseLevel(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return level, nil
}

func noSpeech(transcript string, level feedback.Level) *Analysis {
	return &Analysis{
		OriginalTranscript: transcript,
		Errors:             []grammar.DetectedError{},
		Feedback:           feedback.NoSpeech,
		Recommendations:    feedback.NoSpeechRecommendations(),
		SuggestedExercises: []feedback.Exercise{},
		Level:              level,
		Source:             SourceRules,
	}
}

// TargetMatch returns the Jaro-Winkler similarity, scaled to 0..100, between
// the spoken transcript and the sentence the learner was asked to say. Case,
// punctuation and extra whitespace are ignored.
func TargetMatch(transcript, expected string) int {
	a, b := normalize(transcript), normalize(expected)
	if a == "" || b == "" {
		return 0
	}
	return scoring.Round(matchr.JaroWinkler(a, b, false) * 100)
}

func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
