// Package render writes a finite stretch of a generator's output to raw PCM
// or WAV sinks.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-morse/internal/synth"
)

// ChunkDuration is how much audio is pulled from the generator per write.
const ChunkDuration = 100 * time.Millisecond

const wavFormatPCM = 1

var ErrInvalidDuration = errors.New("render duration must be positive")

// SamplesFor converts a duration into a sample count at the given rate,
// rounding down.
func SamplesFor(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

func chunkSamples(sampleRate int) int {
	n := SamplesFor(ChunkDuration, sampleRate)
	if n < 1 {
		n = 1
	}
	return n
}

// RenderFor writes d worth of little-endian 16-bit samples from gen to w and
// returns the number of bytes written. The context is checked between chunks.
func RenderFor(ctx context.Context, w io.Writer, gen *synth.Generator, d time.Duration) (int64, error) {
	if d <= 0 {
		return 0, ErrInvalidDuration
	}
	rate := gen.Format().SampleRate
	remaining := SamplesFor(d, rate)
	buf := make([]byte, chunkSamples(rate)*synth.BytesPerSample)
	var written int64
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n := len(buf) / synth.BytesPerSample
		if n > remaining {
			n = remaining
		}
		chunk := buf[:n*synth.BytesPerSample]
		_, _ = gen.Read(chunk) // Read never fails
		m, err := w.Write(chunk)
		written += int64(m)
		if err != nil {
			return written, fmt.Errorf("write pcm: %w", err)
		}
		remaining -= n
	}
	return written, nil
}

// WriteWAV renders d worth of audio from gen as a 16-bit mono PCM WAV file.
func WriteWAV(ctx context.Context, w io.WriteSeeker, gen *synth.Generator, d time.Duration) error {
	if d <= 0 {
		return ErrInvalidDuration
	}
	format := gen.Format()
	enc := wav.NewEncoder(w, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM)

	remaining := SamplesFor(d, format.SampleRate)
	pcm := make([]int16, chunkSamples(format.SampleRate))
	buf := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: format.SampleRate, NumChannels: format.Channels},
		Data:           make([]int, len(pcm)),
		SourceBitDepth: format.BitDepth,
	}
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			enc.Close()
			return err
		}
		n := len(pcm)
		if n > remaining {
			n = remaining
		}
		gen.FillInt16(pcm[:n])
		buf.Data = buf.Data[:n]
		for i, s := range pcm[:n] {
			buf.Data[i] = int(s)
		}
		if err := enc.Write(buf); err != nil {
			enc.Close()
			return fmt.Errorf("write wav samples: %w", err)
		}
		remaining -= n
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// CreateWAV creates path (and its parent directory) and renders into it.
func CreateWAV(ctx context.Context, path string, gen *synth.Generator, d time.Duration) error {
	if d <= 0 {
		return ErrInvalidDuration
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	if err := WriteWAV(ctx, f, gen, d); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
