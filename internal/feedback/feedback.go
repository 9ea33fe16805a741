// Package feedback turns scores and detected mistakes into coaching text:
// a feedback paragraph, a short recommendation list and practice exercises.
//
// Everything here is deterministic; the same inputs always produce the same
// text.
package feedback

import (
	"fmt"

	"github.com/MrWong99/speakwell/internal/grammar"
)

const (
	// NoSpeech is the feedback for an empty transcript.
	NoSpeech = "No speech detected. Please try again."

	// MaxRecommendations caps the recommendation list.
	MaxRecommendations = 5

	fluencyThreshold       = 60
	pronunciationThreshold = 70
)

// NoSpeechRecommendations returns the fixed advice for an empty transcript.
func NoSpeechRecommendations() []string {
	return []string{"Speak louder and more clearly", "Check your microphone"}
}

// Feedback returns the feedback paragraph for an overall score. When errs is
// non-empty the most severe mistake (first among equals) is named.
func Feedback(score int, errs []grammar.DetectedError) string {
	main, hasMain := grammar.MostSevere(errs)

	var text string
	switch {
	case score >= 90:
		text = "Excellent! Your speech is clear and grammatically correct. Keep it up."
		if hasMain {
			text += fmt.Sprintf(" One small detail: %s.", main.Type.Label())
		}
	case score >= 75:
		text = "Very good! A few small improvements are possible."
		if hasMain {
			text = fmt.Sprintf("Very good! A few small improvements are possible, especially with %s. %s",
				main.Type.Label(), main.Explanation)
		}
	case score >= 60:
		text = "Good effort! Look at the explanations below."
		if hasMain {
			text = fmt.Sprintf("Good effort! Focus on fixing %d grammar point%s, starting with %s. See the explanations below.",
				len(errs), plural(len(errs)), main.Type.Label())
		}
	case score >= 40:
		text = "You are making progress. There are several things to improve. Practise the suggested exercises to strengthen the basics."
		if hasMain {
			text += fmt.Sprintf(" Start with %s.", main.Type.Label())
		}
	default:
		text = "Keep practising! Basic grammar needs more attention. Start with the A2 level exercises."
		if hasMain {
			text += fmt.Sprintf(" The most important point is %s.", main.Type.Label())
		}
	}
	return text
}

// Recommendations returns up to [MaxRecommendations] action items: one per
// distinct mistake type, then fluency and pronunciation advice when those
// scores are low. When nothing applies it returns a single line encouraging
// the learner to move up a level.
func Recommendations(errs []grammar.DetectedError, fluency, pronunciation float64) []string {
	var recs []string
	for _, t := range grammar.DistinctTypes(errs) {
		recs = append(recs, "Review the rules for: "+t.Label())
	}
	if fluency < fluencyThreshold {
		recs = append(recs, "Practise speaking in longer sentences to improve your fluency")
	}
	if pronunciation < pronunciationThreshold {
		recs = append(recs, "Work on your pronunciation by repeating after native speakers")
	}
	if len(recs) == 0 {
		recs = append(recs, "Excellent work! Try exercises at the next level")
	}
	if len(recs) > MaxRecommendations {
		recs = recs[:MaxRecommendations]
	}
	return recs
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
