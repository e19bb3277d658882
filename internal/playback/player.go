// Package playback streams generator output to live audio sinks.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-morse/internal/config"
	"github.com/loqalabs/loqa-morse/internal/synth"
)

// Player plays a PCM stream until ctx is done or the stream ends.
type Player interface {
	Play(ctx context.Context, src io.Reader) error
}

// New returns the player selected by cfg.Backend for the given format.
func New(cfg config.PlaybackConfig, format synth.Format, log *slog.Logger) (Player, error) {
	log = log.With(slog.String("component", "playback"), slog.String("backend", cfg.Backend))
	buffer := time.Duration(cfg.BufferMS) * time.Millisecond
	switch cfg.Backend {
	case "oto":
		return newOtoPlayer(format, buffer, log), nil
	case "exec":
		return newExecPlayer(cfg.Command, format, buffer, log)
	default:
		return nil, fmt.Errorf("unknown playback backend %q", cfg.Backend)
	}
}

// PlayFor plays src for at most d. A non-positive d plays until ctx is done.
func PlayFor(ctx context.Context, p Player, src io.Reader, d time.Duration) error {
	if d <= 0 {
		return p.Play(ctx, src)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := p.Play(ctx, src)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
