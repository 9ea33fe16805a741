// Package assistant implements the optional external grammar reviewer on top
// of an [llm.Provider].
//
// A [Client] asks the model for a structured grammar review, a short
// encouraging feedback paragraph, and generated speaking exercises. Replies
// are JSON objects; markdown fences and surrounding prose are tolerated, and
// every field is coerced into range before it reaches the analyzer. All calls
// go through a [resilience.CircuitBreaker] so a dead backend is skipped
// instead of costing a timeout per utterance.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/feedback"
	"github.com/MrWong99/speakwell/internal/resilience"
	"github.com/MrWong99/speakwell/pkg/provider/llm"
)

var _ analysis.Assistant = (*Client)(nil)

const (
	defaultReviewTemperature    = 0.3
	defaultFeedbackTemperature  = 0.8
	defaultExercisesTemperature = 0.7
	defaultMaxTokens            = 1024
)

// Client is an [analysis.Assistant] backed by a language model. It is safe
// for concurrent use.
//
// Model selection follows the one-provider-per-model pattern: construct the
// [llm.Provider] with the desired model rather than overriding per request.
type Client struct {
	llm     llm.Provider
	breaker *resilience.CircuitBreaker

	reviewTemp    float64
	feedbackTemp  float64
	exercisesTemp float64
	maxTokens     int
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithTemperature sets the sampling temperature of grammar reviews. Feedback
// and exercise generation keep their higher defaults. Default: 0.3.
func WithTemperature(temp float64) Option {
	return func(c *Client) {
		c.reviewTemp = temp
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		if cb != nil {
			c.breaker = cb
		}
	}
}

// WithMaxTokens caps the completion length of every call. Default: 1024.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// New returns a [Client] backed by provider.
func New(provider llm.Provider, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, errors.New("assistant: provider must not be nil")
	}
	c := &Client{
		llm:           provider,
		reviewTemp:    defaultReviewTemperature,
		feedbackTemp:  defaultFeedbackTemperature,
		exercisesTemp: defaultExercisesTemperature,
		maxTokens:     defaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "assistant"})
	}
	return c, nil
}

// Available reports whether calls are currently let through. It is false
// while the circuit breaker is open.
func (c *Client) Available() bool {
	return c.breaker.State() != resilience.StateOpen
}

// Breaker exposes the client's circuit breaker for readiness checks.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// ReviewGrammar implements [analysis.Assistant].
func (c *Client) ReviewGrammar(ctx context.Context, transcript string, level feedback.Level) (*analysis.Review, error) {
	content, err := c.complete(ctx, llm.CompletionRequest{
		SystemPrompt: reviewPrompt(level),
		Messages:     []llm.Message{llm.UserMessage(reviewMessage(transcript))},
		Temperature:  c.reviewTemp,
		JSONMode:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: review grammar: %w", err)
	}
	review, err := parseReview(content)
	if err != nil {
		return nil, fmt.Errorf("assistant: review grammar: %w", err)
	}
	return review, nil
}

// EnhanceFeedback implements [analysis.Assistant].
func (c *Client) EnhanceFeedback(ctx context.Context, req analysis.FeedbackRequest) (string, error) {
	content, err := c.complete(ctx, llm.CompletionRequest{
		SystemPrompt: feedbackPrompt(req.Level),
		Messages:     []llm.Message{llm.UserMessage(feedbackMessage(req))},
		Temperature:  c.feedbackTemp,
	})
	if err != nil {
		return "", fmt.Errorf("assistant: enhance feedback: %w", err)
	}
	text := strings.TrimSpace(stripMarkdown(content))
	if text == "" {
		return "", errors.New("assistant: enhance feedback: empty reply")
	}
	return text, nil
}

// GenerateExercises implements [analysis.Assistant].
func (c *Client) GenerateExercises(ctx context.Context, level feedback.Level, focusAreas []string, count int) ([]feedback.Exercise, error) {
	content, err := c.complete(ctx, llm.CompletionRequest{
		SystemPrompt: exercisesPrompt(level),
		Messages:     []llm.Message{llm.UserMessage(exercisesMessage(focusAreas, count))},
		Temperature:  c.exercisesTemp,
		JSONMode:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: generate exercises: %w", err)
	}
	list, err := parseExercises(content, level, focusAreas)
	if err != nil {
		return nil, fmt.Errorf("assistant: generate exercises: %w", err)
	}
	return list, nil
}

// complete sends req through the circuit breaker and returns the reply text.
func (c *Client) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	req.MaxTokens = c.maxTokens
	var content string
	err := c.breaker.Execute(func() error {
		resp, err := c.llm.Complete(ctx, req)
		if err != nil {
			return err
		}
		if resp == nil {
			return errors.New("nil response")
		}
		content = resp.Content
		return nil
	})
	return content, err
}
