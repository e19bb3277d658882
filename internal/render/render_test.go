package render

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-morse/internal/synth"
)

func newGenerator(t *testing.T) *synth.Generator {
	t.Helper()
	g, err := synth.FromText("SOS", synth.Params{SampleRate: 8000, Frequency: 600, Amplitude: 0.5})
	if err != nil {
		t.Fatalf("create generator: %v", err)
	}
	return g
}

func TestSamplesFor(t *testing.T) {
	if got := SamplesFor(time.Second, 44100); got != 44100 {
		t.Fatalf("SamplesFor(1s) = %d", got)
	}
	if got := SamplesFor(250*time.Millisecond, 8000); got != 2000 {
		t.Fatalf("SamplesFor(250ms) = %d", got)
	}
}

func TestRenderForWritesExactDuration(t *testing.T) {
	g := newGenerator(t)
	var buf bytes.Buffer
	n, err := RenderFor(context.Background(), &buf, g, 1250*time.Millisecond)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if n != 10000*2 || buf.Len() != 10000*2 {
		t.Fatalf("expected 20000 bytes, got n=%d len=%d", n, buf.Len())
	}

	ref := newGenerator(t)
	want := make([]int16, 10000)
	ref.FillInt16(want)
	for i, v := range want {
		if got := int16(binary.LittleEndian.Uint16(buf.Bytes()[i*2:])); got != v {
			t.Fatalf("sample %d: got %d want %d", i, got, v)
		}
	}
}

func TestRenderForInvalidDuration(t *testing.T) {
	if _, err := RenderFor(context.Background(), &bytes.Buffer{}, newGenerator(t), 0); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestRenderForStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := RenderFor(ctx, &bytes.Buffer{}, newGenerator(t), time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing written, got %d bytes", n)
	}
}

func TestCreateWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sos.wav")
	if err := CreateWAV(context.Background(), path, newGenerator(t), 3400*time.Millisecond); err != nil {
		t.Fatalf("create wav: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("expected a valid wav file")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if dec.SampleRate != 8000 || dec.BitDepth != 16 || dec.NumChans != 1 {
		t.Fatalf("unexpected format rate=%d depth=%d chans=%d", dec.SampleRate, dec.BitDepth, dec.NumChans)
	}
	if len(pcm.Data) != 27200 {
		t.Fatalf("expected 27200 samples, got %d", len(pcm.Data))
	}

	ref := newGenerator(t)
	want := make([]int16, len(pcm.Data))
	ref.FillInt16(want)
	for i, v := range want {
		if pcm.Data[i] != int(v) {
			t.Fatalf("sample %d: got %d want %d", i, pcm.Data[i], v)
		}
	}
}

func TestCreateWAVRemovesFileOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancelled.wav")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := CreateWAV(ctx, path, newGenerator(t), time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected partial file removed, stat err=%v", err)
	}
}
