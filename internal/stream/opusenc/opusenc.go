// Package opusenc adapts libopus to the stream encoder contract.
package opusenc

import (
	"fmt"

	"github.com/loqalabs/loqa-morse/internal/stream"
	"gopkg.in/hraban/opus.v2"
)

// New returns an Opus encoder tuned for music-like content.
func New(sampleRate, channels, bitrate int) (stream.Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("set opus bitrate: %w", err)
		}
	}
	return enc, nil
}
