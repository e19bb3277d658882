// Package tone turns Morse sequences into instrumental sequences: a flat
// list of tone and silence units, each one dot long.
package tone

import (
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-morse/internal/morse"
)

// Unit is one dot-length slice of the instrumental sequence.
type Unit uint8

const (
	Silence Unit = iota
	Tone
)

func (u Unit) String() string {
	if u == Tone {
		return "X"
	}
	return " "
}

// Sequence is an immutable run of units. Callers must not modify a sequence
// after handing it to a generator.
type Sequence []Unit

func (seq Sequence) String() string {
	var b strings.Builder
	b.Grow(len(seq))
	for _, u := range seq {
		b.WriteString(u.String())
	}
	return b.String()
}

// ToneUnits counts the tone units in the sequence.
func (seq Sequence) ToneUnits() int {
	n := 0
	for _, u := range seq {
		if u == Tone {
			n++
		}
	}
	return n
}

// Silence emitted for each symbol. Dots and dashes carry their own one-unit
// inter-symbol gap, so a letter gap adds 2 to reach 3 and a word gap, which
// always follows a letter gap, adds 4 to reach 7.
const (
	symbolGapUnits = 1
	letterGapUnits = 2
	wordGapUnits   = 4
	dashUnits      = 3
)

// UnsupportedSymbolError reports a symbol that has no tone rendering.
type UnsupportedSymbolError struct {
	Symbol morse.Symbol
	Index  int
}

func (e *UnsupportedSymbolError) Error() string {
	return fmt.Sprintf("%s %d at position %d", morse.ErrUnsupportedSymbol, e.Symbol, e.Index)
}

func (e *UnsupportedSymbolError) Unwrap() error { return morse.ErrUnsupportedSymbol }

// Translate converts a Morse sequence to an instrumental sequence.
func Translate(seq morse.Sequence) (Sequence, error) {
	out := make(Sequence, 0, len(seq)*3)
	for i, s := range seq {
		switch s {
		case morse.Dot:
			out = append(out, Tone)
			out = appendSilence(out, symbolGapUnits)
		case morse.Dash:
			for j := 0; j < dashUnits; j++ {
				out = append(out, Tone)
			}
			out = appendSilence(out, symbolGapUnits)
		case morse.LetterGap:
			out = appendSilence(out, letterGapUnits)
		case morse.WordGap:
			out = appendSilence(out, wordGapUnits)
		default:
			return nil, &UnsupportedSymbolError{Symbol: s, Index: i}
		}
	}
	return out, nil
}

// FromText runs both translation stages.
func FromText(text string) (morse.Sequence, Sequence, error) {
	symbols, err := morse.Translate(text)
	if err != nil {
		return nil, nil, err
	}
	units, err := Translate(symbols)
	if err != nil {
		return nil, nil, err
	}
	return symbols, units, nil
}

// Parse reads an instrumental sequence written with 'X' (or 'x') for tone
// and ' ' for silence.
func Parse(s string) (Sequence, error) {
	out := make(Sequence, 0, len(s))
	index := 0
	for _, r := range s {
		switch r {
		case 'X', 'x':
			out = append(out, Tone)
		case ' ':
			out = append(out, Silence)
		default:
			return nil, &morse.UnsupportedSymbolError{Char: r, Index: index}
		}
		index++
	}
	return out, nil
}

func appendSilence(out Sequence, n int) Sequence {
	for i := 0; i < n; i++ {
		out = append(out, Silence)
	}
	return out
}
