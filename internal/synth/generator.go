// Package synth renders instrumental sequences as PCM samples.
//
// A Generator is a pull-based source: every call to Fill or Read continues
// from the cursor left by the previous call, so callers may request buffers of
// any size without affecting the produced signal. When the end of the
// sequence is reached the generator wraps around and plays it again.
package synth

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/loqalabs/loqa-morse/internal/tone"
)

const (
	DefaultSampleRate = 44100
	DefaultFrequency  = 440.0
	DefaultAmplitude  = 0.5

	// UnitsPerSecond fixes one sequence unit to a tenth of a second.
	UnitsPerSecond = 10

	// MinSampleRate keeps every unit at least one sample long; MaxSampleRate
	// bounds the memory and output size a single request can demand.
	MinSampleRate = UnitsPerSecond
	MaxSampleRate = 192000

	BitDepth       = 16
	Channels       = 1
	BytesPerSample = BitDepth / 8
)

var (
	ErrInvalidParams = errors.New("invalid generator parameters")
	ErrEmptySequence = errors.New("instrumental sequence is empty")
)

// Params configures the generated tone.
type Params struct {
	SampleRate int
	Frequency  float64
	Amplitude  float64
}

// DefaultParams returns 44.1 kHz, 440 Hz at half amplitude.
func DefaultParams() Params {
	return Params{
		SampleRate: DefaultSampleRate,
		Frequency:  DefaultFrequency,
		Amplitude:  DefaultAmplitude,
	}
}

// Validate checks the generator preconditions.
func (p Params) Validate() error {
	if p.SampleRate < MinSampleRate || p.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate %d must be in [%d,%d]", ErrInvalidParams, p.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if p.Frequency <= 0 || math.IsNaN(p.Frequency) || math.IsInf(p.Frequency, 0) {
		return fmt.Errorf("%w: frequency %v must be positive", ErrInvalidParams, p.Frequency)
	}
	if !(p.Amplitude > 0 && p.Amplitude <= 1) {
		return fmt.Errorf("%w: amplitude %v must be in (0,1]", ErrInvalidParams, p.Amplitude)
	}
	return nil
}

// Format describes the PCM stream produced by Read.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// BytesPerSecond is the byte rate of the stream.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

// Cursor is the position of the next sample: the unit index into the
// sequence and the sample index within that unit.
type Cursor struct {
	Unit   int
	Sample int
}

// Generator produces samples for an instrumental sequence. It is not safe
// for concurrent use.
type Generator struct {
	seq            tone.Sequence
	params         Params
	samplesPerUnit int
	phaseStep      float64
	cursor         Cursor

	scratch []float64
}

// New creates a generator positioned at the start of seq.
func New(seq tone.Sequence, params Params) (*Generator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(seq) == 0 {
		return nil, ErrEmptySequence
	}
	return &Generator{
		seq:            seq,
		params:         params,
		samplesPerUnit: params.SampleRate / UnitsPerSecond,
		phaseStep:      2 * math.Pi * params.Frequency / float64(params.SampleRate),
	}, nil
}

// Params returns the generator configuration.
func (g *Generator) Params() Params { return g.params }

// Sequence returns the instrumental sequence being played.
func (g *Generator) Sequence() tone.Sequence { return g.seq }

// Format returns the output format of Read.
func (g *Generator) Format() Format {
	return Format{SampleRate: g.params.SampleRate, BitDepth: BitDepth, Channels: Channels}
}

// SamplesPerUnit is the number of samples in one sequence unit.
func (g *Generator) SamplesPerUnit() int { return g.samplesPerUnit }

// LoopSamples is the number of samples after which the output repeats.
func (g *Generator) LoopSamples() int { return len(g.seq) * g.samplesPerUnit }

// LoopDuration is the playing time of one pass over the sequence.
func (g *Generator) LoopDuration() time.Duration {
	return time.Duration(len(g.seq)) * time.Second / UnitsPerSecond
}

// Cursor returns the position of the next sample.
func (g *Generator) Cursor() Cursor { return g.cursor }

// Reset rewinds the generator to the start of the sequence.
func (g *Generator) Reset() { g.cursor = Cursor{} }

// Fill produces exactly n samples in [-amplitude, amplitude]. The returned
// slice is owned by the generator and is overwritten by the next call.
// Fill panics if n is not positive.
func (g *Generator) Fill(n int) []float64 {
	if n <= 0 {
		panic(fmt.Sprintf("synth: Fill called with non-positive sample count %d", n))
	}
	if cap(g.scratch) < n {
		g.scratch = make([]float64, n)
	}
	buf := g.scratch[:n]
	for i := range buf {
		buf[i] = g.next()
	}
	return buf
}

// FillInt16 fills dst with signed 16-bit samples and returns len(dst).
func (g *Generator) FillInt16(dst []int16) int {
	for i := range dst {
		dst[i] = toInt16(g.next())
	}
	return len(dst)
}

// Read implements io.Reader over the little-endian 16-bit mono stream. It
// always fills the largest even prefix of p and never returns an error.
func (g *Generator) Read(p []byte) (int, error) {
	n := len(p) / BytesPerSample
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(p[i*BytesPerSample:], uint16(toInt16(g.next())))
	}
	return n * BytesPerSample, nil
}

// next returns the sample at the cursor and advances it.
func (g *Generator) next() float64 {
	var v float64
	if g.seq[g.cursor.Unit] == tone.Tone {
		// phase restarts at every unit so each burst starts at a zero crossing
		v = g.params.Amplitude * math.Sin(g.phaseStep*float64(g.cursor.Sample))
	}
	g.cursor.Sample++
	if g.cursor.Sample >= g.samplesPerUnit {
		g.cursor.Sample = 0
		g.cursor.Unit++
		if g.cursor.Unit >= len(g.seq) {
			g.cursor.Unit = 0
		}
	}
	return v
}

func toInt16(v float64) int16 {
	return int16(v * math.MaxInt16)
}
