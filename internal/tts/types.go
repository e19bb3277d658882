package tts

import "context"

// SynthRequest contains the text and optional tone overrides. Zero values
// fall back to the synthesizer defaults.
type SynthRequest struct {
	SessionID  string
	Text       string
	SampleRate int
	Frequency  float64
	Amplitude  float64
}

// SynthChunk contains PCM data. Morse, Units and Frequency describe the
// whole message and are set on the final chunk.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
	Morse      string
	Units      int
	Frequency  float64
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}
