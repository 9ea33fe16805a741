package analysis

import (
	"context"
	"strings"
	"time"

	"github.com/MrWong99/speakwell/internal/feedback"
	"github.com/MrWong99/speakwell/internal/grammar"
	"github.com/MrWong99/speakwell/internal/observe"
)

// Assistant is an optional external reviewer, typically backed by a language
// model. Implementations must honour ctx cancellation; the [Analyzer] bounds
// every call with its own timeout.
type Assistant interface {
	// ReviewGrammar returns the assistant's own list of mistakes and,
	// optionally, a corrected sentence.
	ReviewGrammar(ctx context.Context, transcript string, level feedback.Level) (*Review, error)

	// EnhanceFeedback returns a short encouraging feedback paragraph.
	EnhanceFeedback(ctx context.Context, req FeedbackRequest) (string, error)

	// GenerateExercises returns up to count exercises for the focus areas.
	GenerateExercises(ctx context.Context, level feedback.Level, focusAreas []string, count int) ([]feedback.Exercise, error)
}

// Review is the assistant's grammar verdict.
type Review struct {
	// Errors may carry empty spans; they are located in the transcript
	// during the merge.
	Errors []grammar.DetectedError

	// CorrectedSentence, when non-empty, overrides the rule-based rewrite.
	CorrectedSentence string
}

// FeedbackRequest carries the rule-based result to [Assistant.EnhanceFeedback].
type FeedbackRequest struct {
	Transcript    string
	Errors        []grammar.DetectedError
	Grammar       int
	Pronunciation int
	Fluency       int
	Level         feedback.Level
}

const (
	opReview    = "review_grammar"
	opEnhance   = "enhance_feedback"
	opExercises = "generate_exercises"
)

func (a *Analyzer) review(ctx context.Context, as Assistant, transcript string, level feedback.Level) *Review {
	ctx, cancel := context.WithTimeout(ctx, a.reviewTimeout)
	defer cancel()

	start := time.Now()
	r, err := as.ReviewGrammar(ctx, transcript, level)
	a.recordAssistant(ctx, opReview, start, err)
	if err != nil {
		observe.Logger(ctx).Warn("analysis: assistant review failed, using rules only", "err", err)
		return nil
	}
	return r
}

func (a *Analyzer) enhance(ctx context.Context, as Assistant, req FeedbackRequest) string {
	ctx, cancel := context.WithTimeout(ctx, a.enhanceTimeout)
	defer cancel()

	start := time.Now()
	text, err := as.EnhanceFeedback(ctx, req)
	a.recordAssistant(ctx, opEnhance, start, err)
	if err != nil {
		observe.Logger(ctx).Warn("analysis: assistant feedback failed, keeping generated feedback", "err", err)
		return ""
	}
	return strings.TrimSpace(text)
}

func (a *Analyzer) recordAssistant(ctx context.Context, op string, start time.Time, err error) {
	a.metrics.RecordAssistantCall(ctx, op, time.Since(start), err)
}

// locate returns assistant errors with spans checked against transcript.
// An error without a usable span gets one from a case-insensitive search for
// its original text; when the text is not found the span is {0,0}, which the
// rewriter treats as unlocated. Severities are normalised to the fixed
// per-type lookup when missing or unknown.
func locate(transcript string, errs []grammar.DetectedError) []grammar.DetectedError {
	if len(errs) == 0 {
		return nil
	}
	lower := strings.ToLower(transcript)
	// Offsets found in lower are only valid in transcript when lowering kept
	// every byte length.
	searchable := len(lower) == len(transcript)
	out := make([]grammar.DetectedError, 0, len(errs))
	for _, e := range errs {
		if !e.Severity.IsValid() {
			e.Severity = grammar.SeverityOf(e.Type)
		}
		if e.Span.Empty() || !e.Span.Within(len(transcript)) {
			e.Span = grammar.Span{}
			if needle := strings.ToLower(e.Original); searchable && needle != "" && len(needle) == len(e.Original) {
				if i := strings.Index(lower, needle); i >= 0 {
					e.Span = grammar.Span{Start: i, End: i + len(e.Original)}
				}
			}
		}
		out = append(out, e)
	}
	return out
}
