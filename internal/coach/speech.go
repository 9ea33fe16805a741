package coach

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"github.com/dlclark/regexp2"

	"github.com/MrWong99/speakwell/internal/analysis"
)

const (
	// WelcomeLine is spoken when a session starts.
	WelcomeLine = "Hello! I'm your English coach. Let's have a conversation! " +
		"Start speaking in English and I will help you improve your grammar in real time."

	// PraiseLine is spoken after an utterance scoring at least praiseScore.
	PraiseLine = "Excellent! Keep going."

	correctionRate = 0.9
	praiseRate     = 1.0
	praiseScore    = 90

	// echoSimilarity is the Jaro-Winkler score above which a transcript
	// sentence is taken to be the coach's own voice.
	echoSimilarity = 0.9

	// recentLines is how many spoken coach lines the echo filter remembers.
	recentLines = 5
)

// speechFor returns the line the coach says about a, if any.
func (c *Coach) speechFor(a *analysis.Analysis) (text string, rate float64, ok bool) {
	if c.synth == nil || !c.cfg.SpeakFeedback {
		return "", 0, false
	}
	if c.cfg.AutoCorrect && len(a.Errors) > 0 {
		return correctionLine(a), correctionRate, true
	}
	if a.Score >= praiseScore {
		return PraiseLine, praiseRate, true
	}
	return "", 0, false
}

// correctionLine describes the mistakes of a in one spoken line.
func correctionLine(a *analysis.Analysis) string {
	if len(a.Errors) == 1 {
		e := a.Errors[0]
		line := fmt.Sprintf("You said %q, but the correct form is %q.", e.Original, e.Corrected)
		if e.Explanation != "" {
			line += " " + e.Explanation
		}
		return line
	}
	corrected := a.CorrectedSentence
	if corrected == "" {
		corrected = a.OriginalTranscript
	}
	return fmt.Sprintf("I found %d mistakes. The correct sentence is: %s", len(a.Errors), corrected)
}

// ── Echo filter ──────────────────────────────────────────────────────────────

// coachPhrases match fragments of the coach's own speech picked up by the
// microphone.
var coachPhrases = compilePhrases(
	`excellent[!,.]?\s*keep going[!.]?`,
	`I found \d+ mistakes?[.!]?`,
	`the correct sentence is:?`,
	`you said\b.{0,200}?\bbut the correct form is\b[^.!?]*[.!?]?`,
	`I'm your English coach[.!]?`,
	`let's have a conversation[.!]?`,
	`start speaking in English and I will help you[^.!?]*[.!?]?`,
)

func compilePhrases(patterns ...string) []*regexp2.Regexp {
	out := make([]*regexp2.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp2.MustCompile(p, regexp2.IgnoreCase)
	}
	return out
}

// echoFilter removes the coach's own speech from a transcript.
type echoFilter struct {
	recent [][]string // normalised sentences of recently spoken lines
}

// remember records a line the coach is about to speak.
func (f *echoFilter) remember(line string) {
	var sentences []string
	for _, s := range splitSentences(line) {
		if n := normalizeEcho(s); n != "" {
			sentences = append(sentences, n)
		}
	}
	f.recent = append(f.recent, sentences)
	if len(f.recent) > recentLines {
		f.recent = f.recent[len(f.recent)-recentLines:]
	}
}

// strip returns text without coach phrases and without sentences that sound
// like a recently spoken coach line.
func (f *echoFilter) strip(text string) string {
	var kept []string
	for _, s := range splitSentences(text) {
		n := normalizeEcho(s)
		if n == "" || f.spoken(n) {
			continue
		}
		kept = append(kept, strings.TrimSpace(s))
	}
	text = strings.Join(kept, " ")

	for _, re := range coachPhrases {
		if out, err := re.Replace(text, " ", -1, -1); err == nil {
			text = out
		}
	}
	if normalizeEcho(text) == "" {
		return ""
	}
	text = strings.TrimLeftFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return strings.Join(strings.Fields(text), " ")
}

func (f *echoFilter) spoken(sentence string) bool {
	for _, line := range f.recent {
		for _, s := range line {
			if matchr.JaroWinkler(sentence, s, false) >= echoSimilarity {
				return true
			}
		}
	}
	return false
}

// splitSentences splits after each run of terminal punctuation, keeping it.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		for i+1 < len(runes) && isTerminal(runes[i+1]) {
			i++
		}
		out = append(out, string(runes[start:i+1]))
		start = i + 1
	}
	if rest := string(runes[start:]); strings.TrimSpace(rest) != "" {
		out = append(out, rest)
	}
	return out
}

func normalizeEcho(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isTerminal(r rune) bool { return r == '.' || r == '!' || r == '?' }

// endsTerminal reports whether text ends with terminal punctuation, ignoring
// trailing spaces and closing quotes.
func endsTerminal(text string) bool {
	text = strings.TrimRightFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"' || r == '\'' || r == ')'
	})
	if text == "" {
		return false
	}
	return isTerminal(rune(text[len(text)-1]))
}

func nonSpaceLen(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
