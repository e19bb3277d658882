package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/loqalabs/loqa-morse/internal/capability"
	"github.com/loqalabs/loqa-morse/internal/config"
	"github.com/loqalabs/loqa-morse/internal/eventstore"
	"github.com/loqalabs/loqa-morse/internal/morse"
	"github.com/loqalabs/loqa-morse/internal/render"
	"github.com/loqalabs/loqa-morse/internal/synth"
	"github.com/loqalabs/loqa-morse/internal/tone"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 1 << 20

type apiDeps struct {
	store   *eventstore.Store
	nodes   func(...capability.Filter) []capability.NodeInfo
	offer   http.Handler
	metrics http.Handler
	ready   func() bool
}

type api struct {
	cfg         config.Config
	log         *slog.Logger
	deps        apiDeps
	tracer      trace.Tracer
	conversions metric.Int64Counter
	samples     metric.Int64Counter
	renderMS    metric.Float64Histogram
}

func newAPI(cfg config.Config, log *slog.Logger, deps apiDeps) *api {
	a := &api{
		cfg:    cfg,
		log:    log.With(slog.String("component", "http-api")),
		deps:   deps,
		tracer: otel.Tracer("github.com/loqalabs/loqa-morse"),
	}
	meter := otel.Meter("github.com/loqalabs/loqa-morse")
	var err error
	if a.conversions, err = meter.Int64Counter("morse.conversions", metric.WithDescription("Text-to-Morse conversions by status")); err != nil {
		a.log.Warn("failed to create conversions counter", slog.String("error", err.Error()))
	}
	if a.samples, err = meter.Int64Counter("morse.samples", metric.WithDescription("PCM samples generated")); err != nil {
		a.log.Warn("failed to create samples counter", slog.String("error", err.Error()))
	}
	if a.renderMS, err = meter.Float64Histogram("morse.render.duration", metric.WithUnit("ms"), metric.WithDescription("Wall time spent rendering audio")); err != nil {
		a.log.Warn("failed to create render histogram", slog.String("error", err.Error()))
	}
	return a
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(a.logRequests)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	if a.deps.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.deps.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/translate", a.handleTranslate)
		r.Post("/render", a.handleRender)
		r.Get("/conversions", a.handleConversions)
		if a.deps.nodes != nil {
			r.Get("/nodes", a.handleNodes)
		}
		if a.deps.offer != nil {
			r.Method(http.MethodPost, "/offer", a.deps.offer)
		}
	})
	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())))
	})
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *api) handleReady(w http.ResponseWriter, _ *http.Request) {
	if a.deps.ready != nil && a.deps.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type translateRequest struct {
	Text string `json:"text"`
}

type translateResponse struct {
	Text   string `json:"text"`
	Morse  string `json:"morse"`
	Units  int    `json:"units"`
	LoopMS int64  `json:"loop_ms"`
}

func (a *api) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}

	symbols, units, err := tone.FromText(req.Text)
	a.record(r.Context(), req.Text, symbols, units, a.toneParams(), err)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, translateResponse{
		Text:   strings.TrimSpace(morse.Normalize(req.Text)),
		Morse:  symbols.String(),
		Units:  len(units),
		LoopMS: int64(len(units)) * 1000 / synth.UnitsPerSecond,
	})
}

type renderRequest struct {
	Text       string  `json:"text"`
	DurationMS int     `json:"duration_ms,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Frequency  float64 `json:"frequency,omitempty"`
	Amplitude  float64 `json:"amplitude,omitempty"`
}

func (a *api) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}

	ctx, span := a.tracer.Start(r.Context(), "morse.render")
	defer span.End()

	params := a.toneParams()
	if req.SampleRate > 0 {
		params.SampleRate = req.SampleRate
	}
	if req.Frequency > 0 {
		params.Frequency = req.Frequency
	}
	if req.Amplitude > 0 {
		params.Amplitude = req.Amplitude
	}

	symbols, units, err := tone.FromText(req.Text)
	var gen *synth.Generator
	if err == nil {
		gen, err = synth.New(units, params)
	}
	a.record(ctx, req.Text, symbols, units, params, err)
	if err != nil {
		span.RecordError(err)
		writeError(w, statusFor(err), err)
		return
	}

	d := a.renderDuration(req.DurationMS, gen)
	if limit := time.Duration(a.cfg.Render.MaxDurationMS) * time.Millisecond; limit > 0 && d > limit {
		writeError(w, http.StatusBadRequest, fmt.Errorf("duration %v exceeds limit %v", d, limit))
		return
	}
	span.SetAttributes(
		attribute.Int("morse.units", len(units)),
		attribute.Int("morse.sample_rate", params.SampleRate),
		attribute.Int64("morse.duration_ms", d.Milliseconds()),
	)

	f, err := os.CreateTemp("", "morse-*.wav")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()

	start := time.Now()
	if err := render.WriteWAV(ctx, f, gen, d); err != nil {
		span.RecordError(err)
		writeError(w, statusFor(err), err)
		return
	}
	a.observeRender(ctx, render.SamplesFor(d, params.SampleRate), time.Since(start))

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="morse.wav"`)
	http.ServeContent(w, r, "morse.wav", time.Time{}, f)
}

func (a *api) renderDuration(requestedMS int, gen *synth.Generator) time.Duration {
	if requestedMS > 0 {
		return time.Duration(requestedMS) * time.Millisecond
	}
	if a.cfg.Render.DefaultDurationMS > 0 {
		return time.Duration(a.cfg.Render.DefaultDurationMS) * time.Millisecond
	}
	return gen.LoopDuration()
}

type conversionView struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id,omitempty"`
	Source     string    `json:"source"`
	Text       string    `json:"text"`
	Morse      string    `json:"morse,omitempty"`
	Units      int       `json:"units"`
	SampleRate int       `json:"sample_rate"`
	Frequency  float64   `json:"frequency"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (a *api) handleConversions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	list, err := a.deps.store.ListConversions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]conversionView, 0, len(list))
	for _, c := range list {
		views = append(views, conversionView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleNodes lists tone nodes. ?sample_rate=N keeps nodes able to render at
// N and ?healthy=true drops nodes with stale beacons.
func (a *api) handleNodes(w http.ResponseWriter, r *http.Request) {
	var filters []capability.Filter
	query := r.URL.Query()
	if raw := query.Get("sample_rate"); raw != "" {
		rate, err := strconv.Atoi(raw)
		if err != nil || rate <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid sample_rate %q", raw))
			return
		}
		filters = append(filters, capability.SupportsSampleRate(rate))
	}
	if raw := query.Get("healthy"); raw != "" {
		healthy, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid healthy %q", raw))
			return
		}
		if healthy {
			filters = append(filters, capability.OnlyHealthy)
		}
	}
	writeJSON(w, http.StatusOK, a.deps.nodes(filters...))
}

func (a *api) toneParams() synth.Params {
	return synth.Params{
		SampleRate: a.cfg.Tone.SampleRate,
		Frequency:  a.cfg.Tone.Frequency,
		Amplitude:  a.cfg.Tone.Amplitude,
	}
}

// record writes the conversion to history and counts it. err is the
// translation or generator error, if any.
func (a *api) record(ctx context.Context, text string, symbols morse.Sequence, units tone.Sequence, params synth.Params, err error) {
	c := eventstore.Conversion{
		Source:     "http",
		Text:       text,
		Morse:      symbols.String(),
		Units:      len(units),
		SampleRate: params.SampleRate,
		Frequency:  params.Frequency,
		Status:     eventstore.StatusOK,
	}
	if err != nil {
		c.Status = eventstore.StatusFailed
		c.Error = err.Error()
		c.Morse = ""
	}
	if _, recErr := a.deps.store.RecordConversion(context.WithoutCancel(ctx), c); recErr != nil {
		a.log.Warn("failed to record conversion", slog.String("error", recErr.Error()))
	}
	if a.conversions != nil {
		a.conversions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", c.Status), attribute.String("source", "http")))
	}
}

func (a *api) observeRender(ctx context.Context, samples int, elapsed time.Duration) {
	if a.samples != nil {
		a.samples.Add(ctx, int64(samples))
	}
	if a.renderMS != nil {
		a.renderMS.Record(ctx, float64(elapsed.Microseconds())/1000)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, morse.ErrUnsupportedCharacter), errors.Is(err, morse.ErrUnsupportedSymbol):
		return http.StatusUnprocessableEntity
	case errors.Is(err, synth.ErrInvalidParams), errors.Is(err, synth.ErrEmptySequence), errors.Is(err, render.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
