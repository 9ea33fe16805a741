package grammar

import (
	"log/slog"
	"strings"

	"github.com/dlclark/regexp2"
)

// Detect runs every rule of t against text and returns the mistakes found,
// grouped by rule in table order and by position within a rule.
//
// Matches whose correction equals the matched text (ignoring case) are not
// reported. A rule whose scan fails (for instance on a match timeout) is
// skipped with a warning; the remaining rules still run. Detect never returns
// an error and is safe for concurrent use.
func (t Table) Detect(text string) []DetectedError {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	offsets := runeOffsets(text)

	var found []DetectedError
	for i := range t {
		r := &t[i]
		hits, err := r.scan(text, offsets)
		if err != nil {
			slog.Warn("grammar: rule scan failed", "rule", r.Name, "err", err)
			continue
		}
		found = append(found, hits...)
	}
	return found
}

func (r *Rule) scan(text string, offsets []int) ([]DetectedError, error) {
	var hits []DetectedError
	m, err := r.Pattern.FindStringMatch(text)
	for ; m != nil && err == nil; m, err = r.Pattern.FindNextMatch(m) {
		if m.Length == 0 {
			continue
		}
		span := Span{Start: offsets[m.Index], End: offsets[m.Index+m.Length]}
		original := text[span.Start:span.End]

		corrected := r.Correct(Match{Text: original, Groups: groupTexts(m, original)})
		if strings.EqualFold(corrected, original) {
			continue
		}
		hits = append(hits, DetectedError{
			Type:        r.Type,
			Original:    original,
			Corrected:   corrected,
			Explanation: r.Explanation,
			Exceptions:  r.Exceptions,
			Severity:    SeverityOf(r.Type),
			Span:        span,
		})
	}
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// groupTexts returns all capture group texts of m; index 0 is replaced by
// the byte-exact matched text.
func groupTexts(m *regexp2.Match, original string) []string {
	groups := m.Groups()
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.String()
	}
	if len(out) > 0 {
		out[0] = original
	}
	return out
}

// runeOffsets maps rune indexes (what the regexp engine reports) to byte
// offsets. The returned slice has one extra entry for the end of text.
func runeOffsets(text string) []int {
	offsets := make([]int, 0, len(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}
