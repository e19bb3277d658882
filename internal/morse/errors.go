package morse

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedCharacter is returned when input text contains a
	// character with no Morse pattern.
	ErrUnsupportedCharacter = errors.New("unsupported character")
	// ErrUnsupportedSymbol is returned when a Morse sequence contains a
	// symbol that cannot be rendered as tone.
	ErrUnsupportedSymbol = errors.New("unsupported morse symbol")
)

// UnsupportedCharacterError reports the offending character and its rune
// index in the normalized text.
type UnsupportedCharacterError struct {
	Char  rune
	Index int
}

func (e *UnsupportedCharacterError) Error() string {
	return fmt.Sprintf("%s %q (U+%04X) at position %d", ErrUnsupportedCharacter, e.Char, e.Char, e.Index)
}

func (e *UnsupportedCharacterError) Unwrap() error { return ErrUnsupportedCharacter }

// UnsupportedSymbolError reports a rune that is not part of the Morse
// alphabet accepted by Parse.
type UnsupportedSymbolError struct {
	Char  rune
	Index int
}

func (e *UnsupportedSymbolError) Error() string {
	return fmt.Sprintf("%s %q at position %d", ErrUnsupportedSymbol, e.Char, e.Index)
}

func (e *UnsupportedSymbolError) Unwrap() error { return ErrUnsupportedSymbol }
