// Package grammar detects and rewrites common spoken-English mistakes using a
// static table of lexical pattern rules.
//
// The package has three layers:
//
//  1. The rule [Table]: an ordered list of [Rule] records, each pairing a
//     pattern with a pure correction function and coaching metadata.
//  2. [Table.Detect]: scans a transcript with every rule, in table order, and
//     reports each match whose correction differs from the matched text.
//  3. [Rewrite]: splices detected corrections back into the original text,
//     highest offset first, so earlier offsets stay valid.
//
// Spans are byte offsets into the original transcript. Rules never see the
// output of other rules; two rules may report overlapping spans.
package grammar

import "strings"

// ErrorType classifies a detected mistake.
type ErrorType string

const (
	SubjectVerbAgreement  ErrorType = "subject_verb_agreement"
	DoubleNegative        ErrorType = "double_negative"
	Article               ErrorType = "article"
	Quantifier            ErrorType = "quantifier"
	WordRepetition        ErrorType = "word_repetition"
	PronounRepetition     ErrorType = "pronoun_repetition"
	Spelling              ErrorType = "spelling"
	PrepositionError      ErrorType = "preposition_error"
	RedundantPreposition  ErrorType = "redundant_preposition"
	MissingPreposition    ErrorType = "missing_preposition"
	MissingArticle        ErrorType = "missing_article"
	PrepositionRepetition ErrorType = "preposition_repetition"
	ConjunctionRepetition ErrorType = "conjunction_repetition"
	ArticleRepetition     ErrorType = "article_repetition"
)

// Label returns the type in human-readable form ("subject verb agreement").
func (t ErrorType) Label() string {
	return strings.ReplaceAll(string(t), "_", " ")
}

// Severity is the coarse weight of a mistake used by the grammar score.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IsValid reports whether s is a recognised severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Weight returns the grammar-score penalty points for one mistake of this
// severity.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 15
	case SeverityMedium:
		return 10
	default:
		return 5
	}
}

// Rank orders severities: high > medium > low.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// SeverityOf returns the fixed severity for an error type. Severity is never
// stored per rule.
func SeverityOf(t ErrorType) Severity {
	switch t {
	case SubjectVerbAgreement, DoubleNegative:
		return SeverityHigh
	case Article, Quantifier:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Span is a half-open [Start, End) byte range into a specific string.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Empty reports whether the span covers no text. Errors reported by an
// external assistant that could not be located carry an empty span.
func (s Span) Empty() bool { return s.End <= s.Start }

// Within reports whether s lies inside a string of length n.
func (s Span) Within(n int) bool {
	return s.Start >= 0 && s.Start <= s.End && s.End <= n
}

// DetectedError is one mistake found in a transcript. Values are never
// mutated after creation.
type DetectedError struct {
	Type        ErrorType `json:"type"`
	Original    string    `json:"original"`
	Corrected   string    `json:"corrected"`
	Explanation string    `json:"explanation"`
	Exceptions  []string  `json:"exceptions,omitempty"`
	Severity    Severity  `json:"severity"`
	Span        Span      `json:"span"`
}

// DistinctTypes returns the error types in errs in first-seen order without
// duplicates.
func DistinctTypes(errs []DetectedError) []ErrorType {
	seen := make(map[ErrorType]struct{}, len(errs))
	var types []ErrorType
	for _, e := range errs {
		if _, ok := seen[e.Type]; ok {
			continue
		}
		seen[e.Type] = struct{}{}
		types = append(types, e.Type)
	}
	return types
}

// MostSevere returns the first error with the highest severity, or false when
// errs is empty.
func MostSevere(errs []DetectedError) (DetectedError, bool) {
	if len(errs) == 0 {
		return DetectedError{}, false
	}
	best := errs[0]
	for _, e := range errs[1:] {
		if e.Severity.Rank() > best.Severity.Rank() {
			best = e
		}
	}
	return best, true
}
