package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-morse/internal/morse"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out, io.Discard).Run(context.Background(), append([]string{"morse"}, args...))
	return out.String(), err
}

func TestTranslateCommand(t *testing.T) {
	out, err := run(t, "translate", "sos")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if out != "... --- ... /\n" {
		t.Fatalf("unexpected output %q", out)
	}

	out, err = run(t, "translate", "--units", "e")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || lines[1] != `"X       "` {
		t.Fatalf("unexpected units output %q", out)
	}
}

func TestTranslateCommandErrors(t *testing.T) {
	if _, err := run(t, "translate"); err == nil {
		t.Fatal("expected error without text")
	}
	_, err := run(t, "translate", "SO€S")
	if !errors.Is(err, morse.ErrUnsupportedCharacter) {
		t.Fatalf("expected unsupported character, got %v", err)
	}
}

func TestRenderCommandWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "sos.wav")
	out, err := run(t, "--sample-rate", "8000", "--frequency", "600", "render", "--out", path, "sos")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Fatalf("expected output path in %q", out)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.SampleRate != 8000 || len(buf.Data) != 27200 {
		t.Fatalf("unexpected wav rate=%d samples=%d", dec.SampleRate, len(buf.Data))
	}
}

func TestRenderCommandRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sos.pcm")
	if _, err := run(t, "--sample-rate", "8000", "render", "--raw", "--duration", "250ms", "--out", path, "sos"); err != nil {
		t.Fatalf("render: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 4000 {
		t.Fatalf("expected 2000 samples of 2 bytes, got %d bytes", info.Size())
	}
}

func TestRenderCommandRejectsBadParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if _, err := run(t, "--amplitude", "2", "render", "--out", path, "sos"); err == nil {
		t.Fatal("expected error for invalid amplitude")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no output file, got %v", err)
	}
}
