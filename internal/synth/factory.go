package synth

import (
	"github.com/loqalabs/loqa-morse/internal/morse"
	"github.com/loqalabs/loqa-morse/internal/tone"
)

// FromText translates text and returns a generator for it.
func FromText(text string, params Params) (*Generator, error) {
	_, units, err := tone.FromText(text)
	if err != nil {
		return nil, err
	}
	return New(units, params)
}

// FromMorse builds a generator from a Morse string such as "... --- ... /".
func FromMorse(s string, params Params) (*Generator, error) {
	symbols, err := morse.Parse(s)
	if err != nil {
		return nil, err
	}
	units, err := tone.Translate(symbols)
	if err != nil {
		return nil, err
	}
	return New(units, params)
}

// FromUnits builds a generator from an instrumental string such as "X XXX   ".
func FromUnits(s string, params Params) (*Generator, error) {
	units, err := tone.Parse(s)
	if err != nil {
		return nil, err
	}
	return New(units, params)
}
