package tts

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-morse/internal/render"
	"github.com/loqalabs/loqa-morse/internal/synth"
	"github.com/loqalabs/loqa-morse/internal/tone"
)

type morseSynth struct {
	defaults synth.Params
	chunk    time.Duration
}

// NewMorseSynth returns a Synthesizer that renders exactly one loop of the
// message in chunks of the given duration.
func NewMorseSynth(defaults synth.Params, chunk time.Duration) Synthesizer {
	if chunk <= 0 {
		chunk = render.ChunkDuration
	}
	return &morseSynth{defaults: defaults, chunk: chunk}
}

func (m *morseSynth) params(req SynthRequest) synth.Params {
	p := m.defaults
	if req.SampleRate > 0 {
		p.SampleRate = req.SampleRate
	}
	if req.Frequency > 0 {
		p.Frequency = req.Frequency
	}
	if req.Amplitude > 0 {
		p.Amplitude = req.Amplitude
	}
	return p
}

func (m *morseSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		symbols, units, err := tone.FromText(req.Text)
		if err != nil {
			errs <- err
			return
		}
		params := m.params(req)
		gen, err := synth.New(units, params)
		if err != nil {
			errs <- err
			return
		}

		per := render.SamplesFor(m.chunk, params.SampleRate)
		if per < 1 {
			per = 1
		}
		remaining := gen.LoopSamples()
		sequence := 0
		for remaining > 0 {
			n := min(per, remaining)
			pcm := make([]byte, n*synth.BytesPerSample)
			if _, err := gen.Read(pcm); err != nil {
				errs <- err
				return
			}
			remaining -= n
			chunk := SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   sequence,
				SampleRate: params.SampleRate,
				Channels:   synth.Channels,
				PCM:        pcm,
				Final:      remaining == 0,
			}
			if chunk.Final {
				chunk.Morse = symbols.String()
				chunk.Units = len(units)
				chunk.Frequency = params.Frequency
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			sequence++
		}
	}()
	return chunks, errs
}
