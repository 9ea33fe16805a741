package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/feedback"
	"github.com/MrWong99/speakwell/internal/grammar"
	"github.com/MrWong99/speakwell/internal/resilience"
	"github.com/MrWong99/speakwell/pkg/provider/llm"
	llmmock "github.com/MrWong99/speakwell/pkg/provider/llm/mock"
)

func newClient(t *testing.T, p *llmmock.Provider, opts ...Option) *Client {
	t.Helper()
	c, err := New(p, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func reply(content string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: content}
}

func TestNew_NilProvider(t *testing.T) {
	t.Parallel()
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

func TestReviewGrammar(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: reply("Here is my review:\n```json\n" + `{
  "errors": [
    {"type": "Subject-Verb Agreement", "original": "go", "corrected": "goes", "explanation": "Use goes with he.", "severity": "HIGH"},
    {"type": "article", "original": "a apple", "corrected": "an apple", "explanation": "Use an before a vowel.", "severity": "critical"},
    {"type": "style", "original": "fine", "corrected": "fine", "explanation": "unchanged"},
    {"type": "spelling", "original": "", "corrected": "x"}
  ],
  "correctedSentence": "  He goes to school with an apple.  "
}` + "\n```")}

	c := newClient(t, p)
	review, err := c.ReviewGrammar(context.Background(), "He go to school with a apple", feedback.LevelA2)
	if err != nil {
		t.Fatalf("ReviewGrammar: %v", err)
	}

	if review.CorrectedSentence != "He goes to school with an apple." {
		t.Errorf("corrected = %q", review.CorrectedSentence)
	}
	if len(review.Errors) != 2 {
		t.Fatalf("errors = %d, want 2 (unchanged and empty entries dropped)", len(review.Errors))
	}
	sva := review.Errors[0]
	if sva.Type != grammar.SubjectVerbAgreement || sva.Severity != grammar.SeverityHigh {
		t.Errorf("first error = %s/%s", sva.Type, sva.Severity)
	}
	if !sva.Span.Empty() {
		t.Errorf("span = %+v, want empty (located by the analyzer)", sva.Span)
	}
	if got := review.Errors[1].Severity; got != grammar.SeverityMedium {
		t.Errorf("unknown severity for article = %q, want the type's fixed medium", got)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(calls))
	}
	req := calls[0].Req
	if !req.JSONMode {
		t.Error("review must request JSON mode")
	}
	if req.Temperature != defaultReviewTemperature {
		t.Errorf("temperature = %v, want %v", req.Temperature, defaultReviewTemperature)
	}
	if !strings.Contains(req.SystemPrompt, "level A2") {
		t.Error("system prompt should name the level")
	}
	if !strings.Contains(req.Messages[0].Content, "He go to school") {
		t.Errorf("user message = %q", req.Messages[0].Content)
	}
}

func TestReviewGrammar_Malformed(t *testing.T) {
	t.Parallel()
	for _, content := range []string{"I cannot help with that.", `{"errors": [`, ""} {
		p := &llmmock.Provider{CompleteResponse: reply(content)}
		if _, err := newClient(t, p).ReviewGrammar(context.Background(), "hi there", feedback.LevelB1); err == nil {
			t.Errorf("content %q: expected error", content)
		}
	}
}

func TestReviewGrammar_ProviderError(t *testing.T) {
	t.Parallel()
	errDown := errors.New("connection refused")
	p := &llmmock.Provider{CompleteErr: errDown}
	_, err := newClient(t, p).ReviewGrammar(context.Background(), "hi there", feedback.LevelB1)
	if !errors.Is(err, errDown) {
		t.Fatalf("err = %v, want wrapped provider error", err)
	}
}

func TestEnhanceFeedback(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: reply("  Great effort! Watch your verb endings.  ")}
	c := newClient(t, p)

	text, err := c.EnhanceFeedback(context.Background(), analysis.FeedbackRequest{
		Transcript:    "He go home",
		Errors:        []grammar.DetectedError{{Type: grammar.SubjectVerbAgreement}},
		Grammar:       85,
		Pronunciation: 90,
		Fluency:       70,
		Level:         feedback.LevelB2,
	})
	if err != nil {
		t.Fatalf("EnhanceFeedback: %v", err)
	}
	if text != "Great effort! Watch your verb endings." {
		t.Errorf("text = %q", text)
	}

	req := p.Calls()[0].Req
	if req.JSONMode {
		t.Error("feedback is plain text")
	}
	msg := req.Messages[0].Content
	for _, want := range []string{"Grammar score: 85%", "Fluency score: 70%", "Errors found: 1", "subject verb agreement"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestEnhanceFeedback_Empty(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: reply("   ")}
	if _, err := newClient(t, p).EnhanceFeedback(context.Background(), analysis.FeedbackRequest{Level: feedback.LevelB1}); err == nil {
		t.Fatal("expected error for empty reply")
	}
}

func TestGenerateExercises(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: reply(`{"exercises": [
  {"id": "Past Tense 1", "type": "grammar", "title": "Yesterday", "prompt": "Describe yesterday.", "duration": 40, "difficulty": 9, "focusAreas": ["past_tense"]},
  {"id": "", "type": "storytelling", "title": "", "prompt": "Tell a story.", "difficulty": 0},
  {"id": "assistant_ready", "type": "Fluency", "prompt": "Talk about food.", "duration": 30, "difficulty": -2},
  {"id": "noprompt", "type": "grammar", "prompt": "  "}
]}`)}
	c := newClient(t, p)

	list, err := c.GenerateExercises(context.Background(), feedback.LevelB1, []string{"article"}, 4)
	if err != nil {
		t.Fatalf("GenerateExercises: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("exercises = %d, want 3 (prompt-less entry dropped)", len(list))
	}

	first := list[0]
	if first.ID != "assistant_past_tense_1" {
		t.Errorf("id = %q", first.ID)
	}
	if first.Difficulty != 5 || first.Duration != 40 || first.Level != feedback.LevelB1 {
		t.Errorf("first = %+v", first)
	}

	second := list[1]
	if second.ID != "assistant_b1_1" {
		t.Errorf("generated id = %q", second.ID)
	}
	if second.Type != feedback.KindGrammar {
		t.Errorf("unknown type coerced to %q, want grammar", second.Type)
	}
	if second.Duration != feedback.LevelB1.Duration() || second.Difficulty != feedback.LevelB1.Difficulty() {
		t.Errorf("defaults = %d/%d", second.Duration, second.Difficulty)
	}
	if second.Title == "" || len(second.FocusAreas) != 1 || second.FocusAreas[0] != "article" {
		t.Errorf("second = %+v", second)
	}

	third := list[2]
	if third.ID != "assistant_ready" || third.Type != feedback.KindFluency || third.Difficulty != 1 {
		t.Errorf("third = %+v", third)
	}

	req := p.Calls()[0].Req
	if req.Temperature != defaultExercisesTemperature || !req.JSONMode {
		t.Errorf("request temperature/json = %v/%v", req.Temperature, req.JSONMode)
	}
	if !strings.Contains(req.Messages[0].Content, "Create 4 speaking exercises") {
		t.Errorf("message = %q", req.Messages[0].Content)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteErr: errors.New("boom")}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "assistant",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	c := newClient(t, p, WithBreaker(cb))

	for range 2 {
		_, _ = c.ReviewGrammar(context.Background(), "hi there", feedback.LevelB1)
	}
	if c.Available() {
		t.Fatal("client must be unavailable once the breaker opens")
	}

	_, err := c.ReviewGrammar(context.Background(), "hi there", feedback.LevelB1)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := len(p.Calls()); got != 2 {
		t.Fatalf("provider called %d times, want 2", got)
	}
}

func TestParseErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: reply("not json")}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	c := newClient(t, p, WithBreaker(cb))

	for range 3 {
		_, _ = c.ReviewGrammar(context.Background(), "hi there", feedback.LevelB1)
	}
	if !c.Available() {
		t.Fatal("a reachable model that answers badly is still available")
	}
}

func TestOptions(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: reply(`{"errors": []}`)}
	c := newClient(t, p, WithTemperature(0.1), WithMaxTokens(256))

	if _, err := c.ReviewGrammar(context.Background(), "I am fine", feedback.LevelC1); err != nil {
		t.Fatalf("ReviewGrammar: %v", err)
	}
	req := p.Calls()[0].Req
	if req.Temperature != 0.1 || req.MaxTokens != 256 {
		t.Errorf("request = %v/%d, want 0.1/256", req.Temperature, req.MaxTokens)
	}
}

func TestStripMarkdown(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"```json\n{}\n```", "{}"},
		{"```\n{}\n```", "{}"},
		{"  {} ", "{}"},
	}
	for _, tt := range tests {
		if got := stripMarkdown(tt.in); got != tt.want {
			t.Errorf("stripMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
