package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/feedback"
	"github.com/MrWong99/speakwell/internal/grammar"
)

// idPrefix marks exercises produced by the assistant.
const idPrefix = "assistant_"

var errNoJSON = errors.New("no JSON object in response")

type reviewResponse struct {
	Errors []struct {
		Type        string `json:"type"`
		Original    string `json:"original"`
		Corrected   string `json:"corrected"`
		Explanation string `json:"explanation"`
		Severity    string `json:"severity"`
	} `json:"errors"`
	CorrectedSentence string `json:"correctedSentence"`
}

type exercisesResponse struct {
	Exercises []struct {
		ID         string   `json:"id"`
		Type       string   `json:"type"`
		Title      string   `json:"title"`
		Prompt     string   `json:"prompt"`
		Duration   int      `json:"duration"`
		Difficulty int      `json:"difficulty"`
		FocusAreas []string `json:"focusAreas"`
	} `json:"exercises"`
}

// parseReview decodes a grammar review. Entries without an original or
// with original == corrected are dropped. Spans are left empty; the
// analyzer locates them in the transcript.
func parseReview(content string) (*analysis.Review, error) {
	var r reviewResponse
	if err := decode(content, &r); err != nil {
		return nil, err
	}

	out := &analysis.Review{
		Errors:            make([]grammar.DetectedError, 0, len(r.Errors)),
		CorrectedSentence: strings.TrimSpace(r.CorrectedSentence),
	}
	for _, e := range r.Errors {
		original := strings.TrimSpace(e.Original)
		corrected := strings.TrimSpace(e.Corrected)
		if original == "" || original == corrected {
			continue
		}
		typ := normalizeType(e.Type)
		out.Errors = append(out.Errors, grammar.DetectedError{
			Type:        typ,
			Original:    original,
			Corrected:   corrected,
			Explanation: strings.TrimSpace(e.Explanation),
			Severity:    normalizeSeverity(e.Severity, typ),
		})
	}
	return out, nil
}

// parseExercises decodes generated exercises and coerces every field into
// range: unknown types become grammar, difficulty is clamped to 1..5 and
// missing durations come from the level table. Entries without a prompt are
// dropped.
func parseExercises(content string, level feedback.Level, focusAreas []string) ([]feedback.Exercise, error) {
	var r exercisesResponse
	if err := decode(content, &r); err != nil {
		return nil, err
	}

	out := make([]feedback.Exercise, 0, len(r.Exercises))
	for i, e := range r.Exercises {
		prompt := strings.TrimSpace(e.Prompt)
		if prompt == "" {
			continue
		}
		kind := strings.ToLower(strings.TrimSpace(e.Type))
		if !feedback.IsKnownKind(kind) {
			kind = feedback.KindGrammar
		}
		difficulty := e.Difficulty
		if difficulty == 0 {
			difficulty = level.Difficulty()
		}
		duration := e.Duration
		if duration <= 0 {
			duration = level.Duration()
		}
		title := strings.TrimSpace(e.Title)
		if title == "" {
			title = "Speaking practice"
		}
		focus := e.FocusAreas
		if len(focus) == 0 {
			focus = focusAreas
		}
		out = append(out, feedback.Exercise{
			ID:         exerciseID(e.ID, level, i),
			Level:      level,
			Type:       kind,
			Title:      title,
			Prompt:     prompt,
			Duration:   duration,
			Difficulty: min(max(difficulty, 1), 5),
			FocusAreas: focus,
		})
	}
	return out, nil
}

func exerciseID(raw string, level feedback.Level, index int) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ':
			return '_'
		}
		return -1
	}, strings.TrimSpace(raw))
	if id == "" {
		id = strings.ToLower(string(level)) + "_" + strconv.Itoa(index)
	}
	if strings.HasPrefix(id, idPrefix) {
		return id
	}
	return idPrefix + id
}

func normalizeType(s string) grammar.ErrorType {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if s == "" {
		return "grammar"
	}
	return grammar.ErrorType(s)
}

// normalizeSeverity maps the assistant's severity onto low|medium|high. An
// unknown value takes the fixed severity of the error type.
func normalizeSeverity(s string, typ grammar.ErrorType) grammar.Severity {
	sev := grammar.Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.IsValid() {
		return sev
	}
	return grammar.SeverityOf(typ)
}

// decode strips markdown fences, extracts the outermost JSON object and
// unmarshals it into v.
func decode(content string, v any) error {
	obj, err := extractObject(stripMarkdown(content))
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// extractObject returns the text from the first '{' to the last '}'.
// Models often wrap the object in a sentence of prose.
func extractObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", errNoJSON
	}
	return s[start : end+1], nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
