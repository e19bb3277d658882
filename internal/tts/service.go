package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-morse/internal/bus"
	"github.com/loqalabs/loqa-morse/internal/config"
	"github.com/loqalabs/loqa-morse/internal/eventstore"
	"github.com/loqalabs/loqa-morse/internal/protocol"
	"github.com/loqalabs/loqa-morse/internal/synth"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Service struct {
	cfg         config.TTSConfig
	bus         *bus.Client
	synth       Synthesizer
	store       *eventstore.Store
	sub         *nats.Subscription
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *slog.Logger
	conversions metric.Int64Counter
	samples     metric.Int64Counter
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synthesizer Synthesizer, store *eventstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		bus:    busClient,
		synth:  synthesizer,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "tts-service")),
	}
	meter := otel.Meter("github.com/loqalabs/loqa-morse")
	var err error
	if s.conversions, err = meter.Int64Counter("morse.conversions", metric.WithDescription("Text-to-Morse conversions by status")); err != nil {
		s.logger.Warn("failed to create conversions counter", slogError(err))
	}
	if s.samples, err = meter.Int64Counter("morse.samples", metric.WithDescription("PCM samples generated")); err != nil {
		s.logger.Warn("failed to create samples counter", slogError(err))
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectMorseRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("listening for morse requests", slog.String("subject", protocol.SubjectMorseRequest))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.MorseRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode morse request", slogError(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timeout := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()

		chunks, errs := s.synth.Synthesize(ctx, SynthRequest{
			SessionID:  req.SessionID,
			Text:       req.Text,
			SampleRate: req.SampleRate,
			Frequency:  req.Frequency,
			Amplitude:  req.Amplitude,
		})
		var (
			final    SynthChunk
			samples  int
			sent     int
			dropped  int
			pubErr   error
			synthErr error
		)
		for chunks != nil || errs != nil {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					chunks = nil
					continue
				}
				if err := s.publishChunk(req, chunk); err != nil {
					dropped++
					pubErr = err
				} else {
					sent++
					samples += len(chunk.PCM) / synth.BytesPerSample
				}
				if chunk.Final {
					final = chunk
				}
			case err, ok := <-errs:
				if ok && err != nil {
					synthErr = err
				}
				errs = nil
			case <-ctx.Done():
				synthErr = ctx.Err()
				chunks, errs = nil, nil
			}
		}
		if synthErr == nil && pubErr != nil {
			synthErr = fmt.Errorf("%d of %d audio chunks not published: %w", dropped, sent+dropped, pubErr)
		}
		s.finish(ctx, req, final, samples, synthErr)
	}()
}

func (s *Service) publishChunk(req protocol.MorseRequest, chunk SynthChunk) error {
	packet := protocol.AudioChunk{
		SessionID:  req.SessionID,
		Target:     req.Target,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Sequence:   chunk.Sequence,
		PCM:        chunk.PCM,
		Final:      chunk.Final,
	}
	if err := s.bus.PublishJSON(protocol.SubjectMorseAudio, packet); err != nil {
		s.logger.Warn("failed to publish morse chunk", slog.String("session_id", req.SessionID), slog.Int("sequence", chunk.Sequence), slogError(err))
		return err
	}
	return nil
}

func (s *Service) finish(ctx context.Context, req protocol.MorseRequest, final SynthChunk, samples int, synthErr error) {
	status := protocol.MorseStatus{
		SessionID: req.SessionID,
		Target:    req.Target,
		Morse:     final.Morse,
		Units:     final.Units,
		Completed: synthErr == nil && final.Final,
		Timestamp: time.Now().UTC(),
	}
	record := eventstore.Conversion{
		SessionID:  req.SessionID,
		Source:     "bus",
		Text:       req.Text,
		Morse:      final.Morse,
		Units:      final.Units,
		SampleRate: final.SampleRate,
		Frequency:  final.Frequency,
		Status:     eventstore.StatusOK,
	}
	if synthErr != nil {
		status.Error = synthErr.Error()
		record.Status = eventstore.StatusFailed
		record.Error = synthErr.Error()
		s.logger.Warn("morse synthesis failed", slog.String("session_id", req.SessionID), slogError(synthErr))
	}

	// the request context may already be cancelled; history is still written
	storeCtx := context.WithoutCancel(ctx)
	if _, err := s.store.RecordConversion(storeCtx, record); err != nil {
		s.logger.Warn("failed to record conversion", slogError(err))
	}

	if err := s.bus.PublishJSON(protocol.SubjectMorseDone, status); err != nil {
		s.logger.Warn("failed to publish morse status", slogError(err))
	}

	if s.conversions != nil {
		s.conversions.Add(storeCtx, 1, metric.WithAttributes(attribute.String("status", record.Status), attribute.String("source", "bus")))
	}
	if s.samples != nil && samples > 0 {
		s.samples.Add(storeCtx, int64(samples))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
