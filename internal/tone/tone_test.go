package tone

import (
	"errors"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-morse/internal/morse"
)

func TestTranslateSOS(t *testing.T) {
	_, units, err := FromText("SOS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "X X X   XXX XXX XXX   X X X       "
	if got := units.String(); got != want {
		t.Fatalf("unexpected sequence\n got %q\nwant %q", got, want)
	}
	if len(units) != 34 {
		t.Fatalf("expected 34 units, got %d", len(units))
	}
	if units.ToneUnits() != 15 {
		t.Fatalf("expected 15 tone units, got %d", units.ToneUnits())
	}
}

func TestGapTiming(t *testing.T) {
	_, units, err := FromText("E E")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// dot, 7 units of word gap, dot, 7 units of trailing word gap
	want := "X" + strings.Repeat(" ", 7) + "X" + strings.Repeat(" ", 7)
	if got := units.String(); got != want {
		t.Fatalf("unexpected sequence\n got %q\nwant %q", got, want)
	}

	_, units, err = FromText("EE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// letter gap between the two E's is three units
	if got := units.String(); !strings.HasPrefix(got, "X   X ") {
		t.Fatalf("unexpected letter gap in %q", got)
	}
}

func TestTranslateDeterministic(t *testing.T) {
	_, a, err := FromText("Hello, World")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, b, err := FromText("hello,  world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.String() != b.String() {
		t.Fatal("expected identical instrumental sequences")
	}
}

func TestTranslateUnsupportedSymbol(t *testing.T) {
	units, err := Translate(morse.Sequence{morse.Dot, morse.Symbol(42), morse.Dash})
	if units != nil {
		t.Fatalf("expected no partial output, got %q", units)
	}
	if !errors.Is(err, morse.ErrUnsupportedSymbol) {
		t.Fatalf("expected ErrUnsupportedSymbol, got %v", err)
	}
	var symErr *UnsupportedSymbolError
	if !errors.As(err, &symErr) || symErr.Index != 1 {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestFromTextPropagatesCharacterError(t *testing.T) {
	_, _, err := FromText("snow ☃")
	if !errors.Is(err, morse.ErrUnsupportedCharacter) {
		t.Fatalf("expected ErrUnsupportedCharacter, got %v", err)
	}
}

func TestParse(t *testing.T) {
	units, err := Parse("Xx  X")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Sequence{Tone, Tone, Silence, Silence, Tone}
	for i := range want {
		if units[i] != want[i] {
			t.Fatalf("unit %d = %v, want %v", i, units[i], want[i])
		}
	}
	if _, err := Parse("X-X"); !errors.Is(err, morse.ErrUnsupportedSymbol) {
		t.Fatalf("expected ErrUnsupportedSymbol, got %v", err)
	}
}
