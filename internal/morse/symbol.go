package morse

import "strings"

// Symbol is one element of a Morse sequence.
type Symbol uint8

const (
	Dot Symbol = iota + 1
	Dash
	// LetterGap separates the characters of a word.
	LetterGap
	// WordGap separates words.
	WordGap
)

func (s Symbol) String() string {
	switch s {
	case Dot:
		return "."
	case Dash:
		return "-"
	case LetterGap:
		return " "
	case WordGap:
		return "/"
	default:
		return "?"
	}
}

// Valid reports whether s is one of the four defined symbols.
func (s Symbol) Valid() bool {
	return s >= Dot && s <= WordGap
}

// Sequence is an ordered list of Morse symbols.
type Sequence []Symbol

// String renders the sequence using '.', '-', ' ' for letter gaps and '/' for
// word gaps.
func (seq Sequence) String() string {
	var b strings.Builder
	b.Grow(len(seq))
	for _, s := range seq {
		b.WriteString(s.String())
	}
	return b.String()
}
