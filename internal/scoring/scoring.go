// Package scoring computes the grammar, pronunciation, fluency and overall
// scores of a single utterance. All scores are in [0, 100].
package scoring

import (
	"math"
	"regexp"
	"strings"

	"github.com/MrWong99/speakwell/internal/grammar"
)

var (
	conjunctionRe  = regexp.MustCompile(`(?i)\b(and|but|or|because|although|however|while)\b`)
	complexTenseRe = regexp.MustCompile(`(?i)\b(have been|has been|will have|would have|could have)\b`)
)

// Scores holds the unrounded sub-scores of an utterance and their mean.
type Scores struct {
	Grammar       float64
	Pronunciation float64
	Fluency       float64
	Overall       float64
}

// Rounded returns the scores rounded to the nearest integer.
func (s Scores) Rounded() (overall, grammarScore, pronunciation, fluency int) {
	return Round(s.Overall), Round(s.Grammar), Round(s.Pronunciation), Round(s.Fluency)
}

// Score computes every sub-score for transcript given the detected errors and
// the recognizer confidence (0..100; out-of-range values are clamped).
func Score(transcript string, errs []grammar.DetectedError, confidence float64) Scores {
	conf := clamp(confidence)
	s := Scores{
		Grammar:       Grammar(transcript, errs),
		Pronunciation: conf,
		Fluency:       Fluency(transcript, conf),
	}
	s.Overall = clamp((s.Grammar + s.Pronunciation + s.Fluency) / 3)
	return s
}

// WordCount returns the number of whitespace-delimited tokens in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Grammar returns 100 minus the severity-weighted error density, clamped to
// [0, 100].
func Grammar(transcript string, errs []grammar.DetectedError) float64 {
	if len(errs) == 0 {
		return 100
	}
	words := WordCount(transcript)
	if words == 0 {
		return 0
	}
	var penalty int
	for _, e := range errs {
		penalty += e.Severity.Weight()
	}
	return clamp(100 - float64(penalty)/float64(words)*100)
}

// Fluency combines utterance length (30%), recognizer confidence (40%) and
// syntactic complexity (30%).
func Fluency(transcript string, confidence float64) float64 {
	length := math.Min(100, float64(WordCount(transcript))/10*100)
	return clamp(0.3*length + 0.4*clamp(confidence) + 0.3*Complexity(transcript))
}

// Complexity is a lexical heuristic: 50 base, +20 for a conjunction, +20 for
// a perfect or conditional auxiliary, +10 for a comma, capped at 100.
func Complexity(transcript string) float64 {
	score := 50.0
	if conjunctionRe.MatchString(transcript) {
		score += 20
	}
	if complexTenseRe.MatchString(transcript) {
		score += 20
	}
	if strings.Contains(transcript, ",") {
		score += 10
	}
	return math.Min(100, score)
}

// Round rounds half away from zero and clamps to [0, 100].
func Round(v float64) int {
	return int(math.Round(clamp(v)))
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
