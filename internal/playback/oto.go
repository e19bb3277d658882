package playback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/loqalabs/loqa-morse/internal/synth"
)

// oto allows a single context per process.
var (
	otoOnce    sync.Once
	otoContext *oto.Context
	otoErr     error
)

type otoPlayer struct {
	format synth.Format
	buffer time.Duration
	log    *slog.Logger
}

func newOtoPlayer(format synth.Format, buffer time.Duration, log *slog.Logger) *otoPlayer {
	return &otoPlayer{format: format, buffer: buffer, log: log}
}

func (p *otoPlayer) context() (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   p.format.SampleRate,
			ChannelCount: p.format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   p.buffer,
		})
		if err != nil {
			otoErr = fmt.Errorf("open audio device: %w", err)
			return
		}
		<-ready
		otoContext = ctx
	})
	return otoContext, otoErr
}

// Play hands src to the device; the audio driver pulls from it on its own
// goroutine until ctx is done.
func (p *otoPlayer) Play(ctx context.Context, src io.Reader) error {
	device, err := p.context()
	if err != nil {
		return err
	}
	player := device.NewPlayer(src)
	defer player.Close()

	player.Play()
	p.log.Info("playback started", slog.Int("sample_rate", p.format.SampleRate))

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			player.Pause()
			p.log.Info("playback stopped")
			return ctx.Err()
		case <-ticker.C:
			if !player.IsPlaying() {
				if err := player.Err(); err != nil {
					return fmt.Errorf("audio player: %w", err)
				}
				return nil
			}
		}
	}
}
