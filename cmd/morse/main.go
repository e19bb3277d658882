package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-morse/internal/config"
	"github.com/loqalabs/loqa-morse/internal/playback"
	"github.com/loqalabs/loqa-morse/internal/render"
	"github.com/loqalabs/loqa-morse/internal/synth"
	"github.com/loqalabs/loqa-morse/internal/tone"
	"github.com/urfave/cli/v3"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "morse",
		Usage:   "Translate text to Morse code and play or render it as a tone",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to configuration file",
				Sources: cli.EnvVars("MORSE_CONFIG"),
			},
			&cli.IntFlag{
				Name:  "sample-rate",
				Usage: "output sample rate in Hz",
			},
			&cli.FloatFlag{
				Name:  "frequency",
				Usage: "tone frequency in Hz",
			},
			&cli.FloatFlag{
				Name:  "amplitude",
				Usage: "tone amplitude in (0,1]",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "translate",
				Usage:     "print the Morse code for TEXT",
				ArgsUsage: "TEXT",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "units",
						Usage: "also print the tone/silence units (X = tone)",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					text, err := textArg(c)
					if err != nil {
						return err
					}
					symbols, units, err := tone.FromText(text)
					if err != nil {
						return err
					}
					fmt.Fprintln(stdout, symbols.String())
					if c.Bool("units") {
						fmt.Fprintf(stdout, "%q\n", units.String())
					}
					return nil
				},
			},
			{
				Name:      "play",
				Usage:     "play TEXT as a looping tone until interrupted",
				ArgsUsage: "TEXT",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "duration",
						Usage: "stop after this long (0 plays until interrupted)",
					},
					&cli.StringFlag{
						Name:  "backend",
						Usage: "playback backend: oto or exec",
					},
					&cli.StringFlag{
						Name:  "command",
						Usage: "player command for the exec backend, {rate} is substituted",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, logger, err := setup(c, stderr)
					if err != nil {
						return err
					}
					if c.IsSet("backend") {
						cfg.Playback.Backend = c.String("backend")
					}
					if c.IsSet("command") {
						cfg.Playback.Command = c.String("command")
					}
					gen, err := generator(c, cfg)
					if err != nil {
						return err
					}
					player, err := playback.New(cfg.Playback, gen.Format(), logger)
					if err != nil {
						return err
					}
					logger.Info("playing", slog.String("morse", gen.Sequence().String()), slog.Duration("loop", gen.LoopDuration()))
					err = playback.PlayFor(ctx, player, gen, c.Duration("duration"))
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				},
			},
			{
				Name:      "render",
				Usage:     "render TEXT to a WAV (or raw PCM) file",
				ArgsUsage: "TEXT",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Value:   "morse.wav",
						Usage:   "output file, relative paths resolve against render.output_dir",
					},
					&cli.DurationFlag{
						Name:  "duration",
						Usage: "length of audio to render (defaults to one loop of the message)",
					},
					&cli.BoolFlag{
						Name:  "raw",
						Usage: "write headerless little-endian 16-bit PCM instead of WAV",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, logger, err := setup(c, stderr)
					if err != nil {
						return err
					}
					gen, err := generator(c, cfg)
					if err != nil {
						return err
					}
					d := c.Duration("duration")
					if d <= 0 && cfg.Render.DefaultDurationMS > 0 {
						d = time.Duration(cfg.Render.DefaultDurationMS) * time.Millisecond
					}
					if d <= 0 {
						d = gen.LoopDuration()
					}
					out := c.String("out")
					if !filepath.IsAbs(out) && cfg.Render.OutputDir != "" {
						out = filepath.Join(cfg.Render.OutputDir, out)
					}

					if c.Bool("raw") {
						err = renderRaw(ctx, out, gen, d)
					} else {
						err = render.CreateWAV(ctx, out, gen, d)
					}
					if err != nil {
						return err
					}
					logger.Debug("render complete", slog.String("path", out), slog.Duration("duration", d))
					fmt.Fprintf(stdout, "wrote %s (%v, %d Hz)\n", out, d, gen.Format().SampleRate)
					return nil
				},
			},
		},
	}
}

func textArg(c *cli.Command) (string, error) {
	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return "", errors.New("no text provided")
	}
	return text, nil
}

// setup loads configuration, applies the global flag overrides and builds a
// stderr logger.
func setup(c *cli.Command, stderr io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, nil, err
	}
	if c.IsSet("sample-rate") {
		cfg.Tone.SampleRate = c.Int("sample-rate")
	}
	if c.IsSet("frequency") {
		cfg.Tone.Frequency = c.Float("frequency")
	}
	if c.IsSet("amplitude") {
		cfg.Tone.Amplitude = c.Float("amplitude")
	}
	if c.IsSet("log-level") {
		cfg.Telemetry.LogLevel = c.String("log-level")
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.Telemetry.SlogLevel()}))
	return cfg, logger, nil
}

func generator(c *cli.Command, cfg config.Config) (*synth.Generator, error) {
	text, err := textArg(c)
	if err != nil {
		return nil, err
	}
	return synth.FromText(text, synth.Params{
		SampleRate: cfg.Tone.SampleRate,
		Frequency:  cfg.Tone.Frequency,
		Amplitude:  cfg.Tone.Amplitude,
	})
}

func renderRaw(ctx context.Context, path string, gen *synth.Generator, d time.Duration) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if _, err := render.RenderFor(ctx, f, gen, d); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
