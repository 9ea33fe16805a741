package analysis

import (
	"context"
	"strings"
	"time"

	"github.com/MrWong99/speakwell/internal/feedback"
	"github.com/MrWong99/speakwell/internal/grammar"
	"github.com/MrWong99/speakwell/internal/observe"
)

const (
	// DefaultExerciseCount is used when GenerateExercises gets no count.
	DefaultExerciseCount = 5

	// MaxExerciseCount caps GenerateExercises.
	MaxExerciseCount = 10
)

// CorrectionError is a detected mistake without positional data.
type CorrectionError struct {
	Type        grammar.ErrorType `json:"type"`
	Original    string            `json:"original"`
	Corrected   string            `json:"corrected"`
	Explanation string            `json:"explanation"`
	Exceptions  []string          `json:"exceptions,omitempty"`
	Severity    grammar.Severity  `json:"severity"`
}

// Correction is the result of [Analyzer.Correct].
type Correction struct {
	Original  string            `json:"original"`
	Corrected string            `json:"corrected"`
	Errors    []CorrectionError `json:"errors"`
}

// Correct runs detection and rewriting only, without scoring or the
// assistant. Blank input is rejected with [ErrEmptyInput].
func (a *Analyzer) Correct(ctx context.Context, sentence, level string) (*Correction, error) {
	if _, err := parseLevel(level); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sentence) == "" {
		return nil, ErrEmptyInput
	}
	if err := a.checkLength(sentence); err != nil {
		return nil, err
	}

	_, span := observe.StartSpan(ctx, "analysis.Correct")
	defer span.End()

	errs := a.rules.Detect(sentence)
	out := &Correction{
		Original:  sentence,
		Corrected: grammar.Rewrite(sentence, errs),
		Errors:    make([]CorrectionError, 0, len(errs)),
	}
	for _, e := range errs {
		out.Errors = append(out.Errors, CorrectionError{
			Type:        e.Type,
			Original:    e.Original,
			Corrected:   e.Corrected,
			Explanation: e.Explanation,
			Exceptions:  e.Exceptions,
			Severity:    e.Severity,
		})
	}
	return out, nil
}

// GenerateExercises returns count exercises for the focus areas. Assistant
// exercises come first when an assistant is attached and answers in time;
// the list is completed with rule-based exercises. count <= 0 means
// [DefaultExerciseCount]; counts above [MaxExerciseCount] are capped.
func (a *Analyzer) GenerateExercises(ctx context.Context, level string, focusAreas []string, count int) ([]feedback.Exercise, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = DefaultExerciseCount
	}
	count = min(count, MaxExerciseCount)

	var list []feedback.Exercise
	if as := a.currentAssistant(); as != nil {
		list = a.assistantExercises(ctx, as, lvl, focusAreas, count)
	}
	return feedback.PadTo(list, lvl, focusAreas, count), nil
}

func (a *Analyzer) assistantExercises(ctx context.Context, as Assistant, level feedback.Level, focusAreas []string, count int) []feedback.Exercise {
	ctx, cancel := context.WithTimeout(ctx, a.exercisesTimeout)
	defer cancel()

	start := time.Now()
	got, err := as.GenerateExercises(ctx, level, focusAreas, count)
	a.recordAssistant(ctx, opExercises, start, err)
	if err != nil {
		observe.Logger(ctx).Warn("analysis: assistant exercises failed, using templates", "err", err)
		return nil
	}

	seen := make(map[string]struct{}, len(got))
	valid := make([]feedback.Exercise, 0, len(got))
	for _, ex := range got {
		if ex.ID == "" || ex.Prompt == "" {
			continue
		}
		if _, dup := seen[ex.ID]; dup {
			continue
		}
		seen[ex.ID] = struct{}{}
		ex.Level = level
		valid = append(valid, ex)
		if len(valid) == count {
			break
		}
	}
	return valid
}
