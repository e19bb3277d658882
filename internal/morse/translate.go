// Package morse translates text into Morse symbol sequences.
package morse

import "strings"

const hardSpace = '\u00a0'

// Normalize trims the text, upper-cases it, collapses every whitespace run to
// a single space and appends one trailing space so the last word is closed by
// a word gap.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToUpper(text)), " ") + " "
}

// Translate normalizes text and converts it to a Morse sequence. Every
// character is followed by a letter gap; each space becomes a word gap. The
// first unmapped character aborts the translation.
func Translate(text string) (Sequence, error) {
	normalized := Normalize(text)
	seq := make(Sequence, 0, len(normalized)*5)
	index := 0
	for _, r := range normalized {
		if r == ' ' {
			seq = append(seq, WordGap)
			index++
			continue
		}
		pattern, ok := patterns[r]
		if !ok {
			return nil, &UnsupportedCharacterError{Char: r, Index: index}
		}
		for _, c := range pattern {
			if c == '.' {
				seq = append(seq, Dot)
			} else {
				seq = append(seq, Dash)
			}
		}
		seq = append(seq, LetterGap)
		index++
	}
	return seq, nil
}

// Parse reads a Morse string made of '.', '-', ' ' (letter gap) and '/' or a
// non-breaking space (word gap). A word gap always closes the preceding
// letter, so "./.", ". /." and ". / ." all parse to the same sequence.
func Parse(s string) (Sequence, error) {
	seq := make(Sequence, 0, len(s)+1)
	last := func() Symbol {
		if len(seq) == 0 {
			return 0
		}
		return seq[len(seq)-1]
	}
	index := 0
	for _, r := range s {
		switch r {
		case '.':
			seq = append(seq, Dot)
		case '-':
			seq = append(seq, Dash)
		case ' ':
			if last() != WordGap {
				seq = append(seq, LetterGap)
			}
		case '/', hardSpace:
			if prev := last(); prev == Dot || prev == Dash {
				seq = append(seq, LetterGap)
			}
			seq = append(seq, WordGap)
		default:
			return nil, &UnsupportedSymbolError{Char: r, Index: index}
		}
		index++
	}
	return seq, nil
}
