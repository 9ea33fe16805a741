package grammar

import (
	"cmp"
	"log/slog"
	"slices"
	"testing"
)

// Rewrite returns text with every correction in errs spliced in.
//
// Errors are applied from the highest start offset to the lowest (stable for
// equal starts) so that offsets of not-yet-applied errors stay valid. When
// two spans overlap, the later application works on text already shortened
// or lengthened by the earlier one; indices are clamped to the current
// length so the result is always well-formed, though it may not read
// naturally. Errors with an empty span carry no location and are skipped.
//
// A span outside the original text is a programming error. Under go test it
// panics; otherwise it is logged and the error is skipped.
func Rewrite(text string, errs []DetectedError) string {
	if len(errs) == 0 {
		return text
	}
	ordered := slices.Clone(errs)
	slices.SortStableFunc(ordered, func(a, b DetectedError) int {
		return cmp.Compare(b.Span.Start, a.Span.Start)
	})

	out := text
	for _, e := range ordered {
		if e.Span.Empty() {
			continue
		}
		if !e.Span.Within(len(text)) {
			if testing.Testing() {
				panic("grammar: span out of range")
			}
			slog.Error("grammar: span out of range, skipping correction",
				"type", e.Type, "start", e.Span.Start, "end", e.Span.End, "len", len(text))
			continue
		}
		start := min(e.Span.Start, len(out))
		end := min(e.Span.End, len(out))
		out = out[:start] + e.Corrected + out[end:]
	}
	return out
}
