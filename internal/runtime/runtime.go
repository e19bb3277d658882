package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-morse/internal/bus"
	"github.com/loqalabs/loqa-morse/internal/capability"
	"github.com/loqalabs/loqa-morse/internal/config"
	"github.com/loqalabs/loqa-morse/internal/eventstore"
	"github.com/loqalabs/loqa-morse/internal/natsserver"
	"github.com/loqalabs/loqa-morse/internal/stream"
	"github.com/loqalabs/loqa-morse/internal/synth"
	"github.com/loqalabs/loqa-morse/internal/tts"
)

// Runtime owns the daemon: HTTP API, bus services, history store and the
// WebRTC stream.
type Runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	encoders stream.EncoderFactory

	httpServer  *http.Server
	tracerClose func(context.Context) error
	embedded    *natsserver.EmbeddedServer
	bus         *bus.Client
	store       *eventstore.Store
	registry    *capability.Registry
	ttsService  *tts.Service
	stream      *stream.Handler
	addr        atomic.Value
	ready       atomic.Bool
	wg          sync.WaitGroup
}

// New prepares a runtime. encoders may be nil, which disables the WebRTC
// stream regardless of config.
func New(cfg config.Config, logger *slog.Logger, encoders stream.EncoderFactory) *Runtime {
	return &Runtime{
		cfg:      cfg,
		logger:   logger,
		encoders: encoders,
	}
}

// Start runs until ctx is cancelled, then shuts every component down.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer func() {
		cancel()
		r.shutdown()
	}()

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.store.RunRetention(ctx, time.Duration(r.cfg.EventStore.PruneIntervalMS)*time.Millisecond)
	}()

	if err := r.startBus(ctx); err != nil {
		return err
	}

	deps := apiDeps{
		store:   r.store,
		metrics: metricsHandler,
		ready:   r.Ready,
	}
	if r.registry != nil {
		deps.nodes = r.registry.Query
	}
	if r.cfg.Stream.Enabled && r.encoders != nil {
		r.stream = stream.NewHandler(r.cfg.Stream, r.cfg.Tone, r.encoders, r.logger)
		deps.offer = r.stream
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(r.cfg.HTTP.Bind, fmt.Sprint(r.cfg.HTTP.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	r.addr.Store(listener.Addr().String())
	r.httpServer = &http.Server{
		Handler:           newAPI(r.cfg, r.logger, deps).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", listener.Addr().String()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.embedded = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.URL()}
	}

	r.bus, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}

	r.registry, err = capability.NewRegistry(ctx, r.cfg.Node, r.cfg.Tone, r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start capability registry: %w", err)
	}

	defaults := synth.Params{
		SampleRate: r.cfg.Tone.SampleRate,
		Frequency:  r.cfg.Tone.Frequency,
		Amplitude:  r.cfg.Tone.Amplitude,
	}
	chunk := time.Duration(r.cfg.Tone.ChunkDurationMS) * time.Millisecond
	r.ttsService = tts.NewService(ctx, r.cfg.TTS, r.bus, tts.NewMorseSynth(defaults, chunk), r.store, r.logger)
	if err := r.ttsService.Start(); err != nil {
		return fmt.Errorf("failed to start tts service: %w", err)
	}
	return nil
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.stream != nil {
		r.stream.Close()
	}
	if r.ttsService != nil {
		r.ttsService.Close()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	r.bus.Close()
	r.embedded.Shutdown()
	if err := r.store.Close(); err != nil {
		r.logger.Error("event store close error", slog.String("error", err.Error()))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

// Ready reports whether the HTTP server is serving and the bus, if enabled,
// is connected.
func (r *Runtime) Ready() bool {
	if !r.ready.Load() {
		return false
	}
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		return false
	}
	if r.ttsService != nil && !r.ttsService.Healthy() {
		return false
	}
	return true
}

// Addr is the address the HTTP server listens on, once started.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}
