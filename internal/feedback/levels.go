package feedback

import (
	"fmt"
	"strings"
)

// Level is a CEFR proficiency level. Only A1 through C1 are coached.
type Level string

const (
	LevelA1 Level = "A1"
	LevelA2 Level = "A2"
	LevelB1 Level = "B1"
	LevelB2 Level = "B2"
	LevelC1 Level = "C1"
)

// DefaultLevel is used when no level is given.
const DefaultLevel = LevelB1

// Levels lists every supported level in ascending order.
var Levels = []Level{LevelA1, LevelA2, LevelB1, LevelB2, LevelC1}

// IsValid reports whether l is a supported level.
func (l Level) IsValid() bool {
	switch l {
	case LevelA1, LevelA2, LevelB1, LevelB2, LevelC1:
		return true
	}
	return false
}

// ParseLevel parses a case-insensitive level name. The empty string yields
// [DefaultLevel].
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultLevel, nil
	}
	l := Level(strings.ToUpper(s))
	if !l.IsValid() {
		return "", fmt.Errorf("feedback: unknown level %q (valid: A1, A2, B1, B2, C1)", s)
	}
	return l, nil
}

// Duration returns the suggested exercise length in seconds.
func (l Level) Duration() int {
	switch l {
	case LevelA1:
		return 20
	case LevelA2:
		return 30
	case LevelB1:
		return 45
	case LevelB2:
		return 60
	case LevelC1:
		return 90
	}
	return 30
}

// Difficulty returns the exercise difficulty on a 1..5 scale.
func (l Level) Difficulty() int {
	switch l {
	case LevelA1:
		return 1
	case LevelA2:
		return 2
	case LevelB1:
		return 3
	case LevelB2:
		return 4
	case LevelC1:
		return 5
	}
	return 3
}
