package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-morse/internal/synth"
	"github.com/mattn/go-shellwords"
)

// DefaultCommand plays raw PCM on ALSA. {rate} is replaced by the sample rate.
const DefaultCommand = "aplay -q -t raw -f S16_LE -c 1 -r {rate}"

type execPlayer struct {
	cmd    []string
	chunk  int
	format synth.Format
	log    *slog.Logger
}

func newExecPlayer(command string, format synth.Format, buffer time.Duration, log *slog.Logger) (*execPlayer, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	command = strings.ReplaceAll(command, "{rate}", strconv.Itoa(format.SampleRate))
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("playback command empty")
	}
	if buffer <= 0 {
		buffer = 100 * time.Millisecond
	}
	chunk := int(int64(format.BytesPerSecond()) * int64(buffer) / int64(time.Second))
	chunk &^= 1
	if chunk < synth.BytesPerSample {
		chunk = synth.BytesPerSample
	}
	return &execPlayer{cmd: args, chunk: chunk, format: format, log: log}, nil
}

// Play pipes src into the command's stdin one chunk at a time. The writes
// block while the player drains its buffer, which paces the generator.
func (p *execPlayer) Play(ctx context.Context, src io.Reader) error {
	cmd := exec.CommandContext(ctx, p.cmd[0], p.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start playback command: %w", err)
	}
	p.log.Info("playback started", slog.String("command", strings.Join(p.cmd, " ")))

	copyErr := p.pump(ctx, stdin, src)
	stdin.Close()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		p.log.Info("playback stopped")
		return ctx.Err()
	}
	if copyErr != nil {
		return copyErr
	}
	if waitErr != nil {
		return fmt.Errorf("playback command: %w", waitErr)
	}
	return nil
}

func (p *execPlayer) pump(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, p.chunk)
	for ctx.Err() == nil {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write to playback command: %w", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read pcm: %w", err)
		}
	}
	return nil
}
