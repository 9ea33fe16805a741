package feedback

import (
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/speakwell/internal/grammar"
)

// Exercise kinds.
const (
	KindGrammar       = "grammar"
	KindFluency       = "fluency"
	KindPronunciation = "pronunciation"
	KindVocabulary    = "vocabulary"
)

const (
	// MinExercises is the number of exercises an analysis always suggests.
	MinExercises = 3
	// MaxExercises caps the exercises suggested by an analysis.
	MaxExercises = 5
)

// Exercise is a speaking task suggested to the learner.
type Exercise struct {
	ID         string   `json:"id"`
	Level      Level    `json:"level"`
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	Prompt     string   `json:"prompt"`
	Duration   int      `json:"duration"`
	Difficulty int      `json:"difficulty"`
	FocusAreas []string `json:"focusAreas"`
}

// IsKnownKind reports whether kind is one of the exercise kinds.
func IsKnownKind(kind string) bool {
	switch kind {
	case KindGrammar, KindFluency, KindPronunciation, KindVocabulary:
		return true
	}
	return false
}

type template struct {
	kind       string
	title      string
	prompt     string
	focusAreas []string
}

// templates holds the targeted exercise for each mistake type that has one.
var templates = map[grammar.ErrorType]template{
	grammar.SubjectVerbAgreement: {
		kind:       KindGrammar,
		title:      "Subject-verb agreement",
		prompt:     `Describe a friend's daily routine using he or she. Example: "She works from 9 to 5."`,
		focusAreas: []string{"third person singular", "present simple"},
	},
	grammar.Article: {
		kind:       KindGrammar,
		title:      "Articles a/an",
		prompt:     `Name 5 objects in your room using "a" or "an". Example: "I see an apple and a book."`,
		focusAreas: []string{"indefinite articles", "pronunciation"},
	},
	grammar.Quantifier: {
		kind:       KindGrammar,
		title:      "Quantifiers much/many",
		prompt:     `Describe what is in your kitchen using "much" and "many". Example: "I have many apples but not much milk."`,
		focusAreas: []string{"countable/uncountable nouns", "quantifiers"},
	},
	grammar.DoubleNegative: {
		kind:       KindGrammar,
		title:      "Past simple negatives",
		prompt:     `Say what you did not do yesterday using "didn't". Example: "I didn't go to the gym yesterday."`,
		focusAreas: []string{"past simple negative", "base form"},
	},
}

// generalPool is rotated through to pad exercise lists.
var generalPool = []template{
	{
		kind:       KindFluency,
		title:      "Free description",
		prompt:     "Describe your ideal day in detail. Speak for at least 30 seconds.",
		focusAreas: []string{"fluency", "vocabulary", "present simple"},
	},
	{
		kind:       KindPronunciation,
		title:      "Irregular past forms",
		prompt:     "Say the past simple of these verbs out loud: go, see, eat, take, make.",
		focusAreas: []string{"irregular verbs", "past simple", "pronunciation"},
	},
	{
		kind:       KindVocabulary,
		title:      "Technical vocabulary",
		prompt:     "Explain what cloud computing is as if you were talking to someone who does not use computers.",
		focusAreas: []string{"technical vocabulary", "explanation skills"},
	},
}

// Exercises suggests practice for the mistakes in errs: one targeted
// exercise per distinct mistake type that has a template (first-seen order),
// padded from the general pool to [MinExercises] and capped at
// [MaxExercises].
func Exercises(errs []grammar.DetectedError, level Level) []Exercise {
	var out []Exercise
	for _, t := range grammar.DistinctTypes(errs) {
		if ex, ok := targeted(t, level, len(out)); ok {
			out = append(out, ex)
		}
	}
	out = padGeneral(out, level, MinExercises)
	if len(out) > MaxExercises {
		out = out[:MaxExercises]
	}
	return out
}

// ForFocus builds count exercises for the given focus areas without an
// analysis. A focus area naming a mistake type with a template ("article",
// "subject verb agreement") yields that targeted exercise; the rest of the
// list comes from the general pool.
func ForFocus(level Level, focusAreas []string, count int) []Exercise {
	if count <= 0 {
		return nil
	}
	var out []Exercise
	seen := make(map[grammar.ErrorType]struct{})
	for _, area := range focusAreas {
		t := grammar.ErrorType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(area)), " ", "_"))
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if ex, ok := targeted(t, level, len(out)); ok {
			out = append(out, ex)
		}
	}
	out = padGeneral(out, level, count)
	if len(out) > count {
		out = out[:count]
	}
	return out
}

// PadTo appends rule-based exercises to list until it holds count entries.
// Generated ids never collide with ids already in list.
func PadTo(list []Exercise, level Level, focusAreas []string, count int) []Exercise {
	count = max(count, 0)
	if len(list) >= count {
		return list[:count]
	}
	taken := make(map[string]struct{}, len(list))
	for _, ex := range list {
		taken[ex.ID] = struct{}{}
	}
	for _, ex := range ForFocus(level, focusAreas, count) {
		if len(list) == count {
			break
		}
		if _, dup := taken[ex.ID]; dup {
			continue
		}
		list = append(list, ex)
	}
	return list
}

func targeted(t grammar.ErrorType, level Level, index int) (Exercise, bool) {
	tpl, ok := templates[t]
	if !ok {
		return Exercise{}, false
	}
	return build(tpl, fmt.Sprintf("speaking_%s_%s_%d", t, level, index), level), true
}

func padGeneral(out []Exercise, level Level, n int) []Exercise {
	for len(out) < n {
		index := len(out)
		tpl := generalPool[index%len(generalPool)]
		out = append(out, build(tpl, fmt.Sprintf("speaking_general_%s_%d", level, index), level))
	}
	return out
}

func build(tpl template, id string, level Level) Exercise {
	return Exercise{
		ID:         id,
		Level:      level,
		Type:       tpl.kind,
		Title:      tpl.title,
		Prompt:     tpl.prompt,
		Duration:   level.Duration(),
		Difficulty: level.Difficulty(),
		FocusAreas: slices.Clone(tpl.focusAreas),
	}
}
