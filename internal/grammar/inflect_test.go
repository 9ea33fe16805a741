package grammar

import "testing"

func TestThirdPerson(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"go":    "goes",
		"have":  "has",
		"do":    "does",
		"work":  "works",
		"play":  "plays",
		"try":   "tries",
		"watch": "watches",
		"fix":   "fixes",
		"Want":  "wants",
	}
	for in, want := range tests {
		if got := thirdPerson(in); got != want {
			t.Errorf("thirdPerson(%q) = %q, want %q", in, got, want)
		}
		if got := baseFromThirdPerson(want); got != lowerASCII(in) {
			t.Errorf("baseFromThirdPerson(%q) = %q, want %q", want, got, lowerASCII(in))
		}
	}
}

func TestBaseFromPast(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"went":   "go",
		"Saw":    "see",
		"bought": "buy",
		"walked": "walked",
	}
	for in, want := range tests {
		if got := baseFromPast(in); got != want {
			t.Errorf("baseFromPast(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatchCase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		src, repl, want string
	}{
		{"much", "many", "many"},
		{"Much", "many", "Many"},
		{"MUCH", "many", "MANY"},
		{"A", "an", "An"},
		{"a", "an", "an"},
		{"", "x", "x"},
	}
	for _, tc := range tests {
		if got := matchCase(tc.src, tc.repl); got != tc.want {
			t.Errorf("matchCase(%q, %q) = %q, want %q", tc.src, tc.repl, got, tc.want)
		}
	}
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
