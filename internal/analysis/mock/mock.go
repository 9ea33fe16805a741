// Package mock provides a test double for the analysis.Assistant interface.
//
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject failures and Delay to simulate a slow
// assistant; a delayed call returns ctx.Err() when ctx ends first.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/feedback"
)

var _ analysis.Assistant = (*Assistant)(nil)

// ReviewCall records a single invocation of ReviewGrammar.
type ReviewCall struct {
	Transcript string
	Level      feedback.Level
}

// ExercisesCall records a single invocation of GenerateExercises.
type ExercisesCall struct {
	Level      feedback.Level
	FocusAreas []string
	Count      int
}

// Assistant is a mock implementation of analysis.Assistant.
type Assistant struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Review is returned by ReviewGrammar. May be nil.
	Review *analysis.Review

	// ReviewErr, if non-nil, is returned by ReviewGrammar.
	ReviewErr error

	// Feedback is returned by EnhanceFeedback.
	Feedback string

	// FeedbackErr, if non-nil, is returned by EnhanceFeedback.
	FeedbackErr error

	// Exercises is returned by GenerateExercises.
	Exercises []feedback.Exercise

	// ExercisesErr, if non-nil, is returned by GenerateExercises.
	ExercisesErr error

	// Delay is applied before every call returns.
	Delay time.Duration

	// --- Call records (read after test) ---

	ReviewCalls    []ReviewCall
	FeedbackCalls  []analysis.FeedbackRequest
	ExercisesCalls []ExercisesCall
}

// ReviewGrammar records the call and returns Review, ReviewErr.
func (a *Assistant) ReviewGrammar(ctx context.Context, transcript string, level feedback.Level) (*analysis.Review, error) {
	a.mu.Lock()
	a.ReviewCalls = append(a.ReviewCalls, ReviewCall{Transcript: transcript, Level: level})
	review, err, delay := a.Review, a.ReviewErr, a.Delay
	a.mu.Unlock()

	if werr := wait(ctx, delay); werr != nil {
		return nil, werr
	}
	return review, err
}

// EnhanceFeedback records the call and returns Feedback, FeedbackErr.
func (a *Assistant) EnhanceFeedback(ctx context.Context, req analysis.FeedbackRequest) (string, error) {
	a.mu.Lock()
	a.FeedbackCalls = append(a.FeedbackCalls, req)
	text, err, delay := a.Feedback, a.FeedbackErr, a.Delay
	a.mu.Unlock()

	if werr := wait(ctx, delay); werr != nil {
		return "", werr
	}
	return text, err
}

// GenerateExercises records the call and returns Exercises, ExercisesErr.
func (a *Assistant) GenerateExercises(ctx context.Context, level feedback.Level, focusAreas []string, count int) ([]feedback.Exercise, error) {
	a.mu.Lock()
	a.ExercisesCalls = append(a.ExercisesCalls, ExercisesCall{Level: level, FocusAreas: focusAreas, Count: count})
	list, err, delay := a.Exercises, a.ExercisesErr, a.Delay
	a.mu.Unlock()

	if werr := wait(ctx, delay); werr != nil {
		return nil, werr
	}
	return list, err
}

// Calls returns the number of calls made to each method.
func (a *Assistant) Calls() (review, enhance, exercises int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ReviewCalls), len(a.FeedbackCalls), len(a.ExercisesCalls)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
