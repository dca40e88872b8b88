package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is a fill-drill difficulty tier.
type Level int

const (
	// LevelWord asks for single words or short phrases.
	LevelWord Level = 1
	// LevelShortAnswer asks for short sentences.
	LevelShortAnswer Level = 2
	// LevelLongForm asks for a full written answer and is graded holistically.
	LevelLongForm Level = 3
)

// Levels lists every level in ascending order.
var Levels = []Level{LevelWord, LevelShortAnswer, LevelLongForm}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	return l >= LevelWord && l <= LevelLongForm
}

// String returns the display name of the level.
func (l Level) String() string {
	switch l {
	case LevelWord:
		return "word"
	case LevelShortAnswer:
		return "short-answer"
	case LevelLongForm:
		return "long-form"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel accepts "2", "level2", "l2" and "L2".
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "level")
	s = strings.TrimPrefix(s, "l")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	l := Level(n)
	if !l.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLevel, n)
	}
	return l, nil
}

// ValidateLevel returns ErrInvalidLevel for levels outside 1..3.
func ValidateLevel(l Level) error {
	if !l.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, int(l))
	}
	return nil
}
