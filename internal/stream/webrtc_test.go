package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-morse/internal/config"
	"github.com/loqalabs/loqa-morse/internal/synth"
	"github.com/pion/webrtc/v4/pkg/media"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// rawEncoder keeps every frame it is handed and emits the frame length as a
// two-byte packet.
type rawEncoder struct {
	frames [][]int16
	fail   error
}

func (e *rawEncoder) Encode(pcm []int16, data []byte) (int, error) {
	if e.fail != nil {
		return 0, e.fail
	}
	e.frames = append(e.frames, append([]int16(nil), pcm...))
	data[0] = byte(len(pcm) >> 8)
	data[1] = byte(len(pcm))
	return 2, nil
}

type recorder struct {
	samples []media.Sample
	cancel  context.CancelFunc
	limit   int
}

func (r *recorder) WriteSample(s media.Sample) error {
	r.samples = append(r.samples, media.Sample{Data: append([]byte(nil), s.Data...), Duration: s.Duration})
	if len(r.samples) == r.limit {
		r.cancel()
	}
	return nil
}

func TestFrameSize(t *testing.T) {
	if frameSamples != 960 {
		t.Fatalf("expected 960 samples per 20ms frame, got %d", frameSamples)
	}
}

func TestPumpStreamsContiguousFrames(t *testing.T) {
	params := synth.Params{SampleRate: SampleRate, Frequency: 600, Amplitude: 0.5}
	gen, err := synth.FromText("SOS", params)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tick := make(chan time.Time)
	go func() {
		for {
			select {
			case tick <- time.Now():
			case <-ctx.Done():
				return
			}
		}
	}()

	enc := &rawEncoder{}
	out := &recorder{cancel: cancel, limit: 3}
	if err := pump(ctx, gen, enc, out, tick); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	// a tick racing the cancellation may add one more frame
	if len(out.samples) < 3 || len(enc.frames) != len(out.samples) {
		t.Fatalf("expected at least 3 frames, got %d samples %d frames", len(out.samples), len(enc.frames))
	}
	for _, s := range out.samples {
		if s.Duration != FrameDuration || len(s.Data) != 2 {
			t.Fatalf("unexpected sample %+v", s)
		}
	}

	ref, err := synth.FromText("SOS", params)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	want := make([]int16, len(enc.frames)*frameSamples)
	ref.FillInt16(want)
	for i, frame := range enc.frames {
		for j, v := range frame {
			if v != want[i*frameSamples+j] {
				t.Fatalf("frame %d sample %d = %d, want %d", i, j, v, want[i*frameSamples+j])
			}
		}
	}
}

func TestPumpEncodeError(t *testing.T) {
	gen, err := synth.FromText("E", synth.Params{SampleRate: SampleRate, Frequency: 600, Amplitude: 0.5})
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	tick := make(chan time.Time, 1)
	tick <- time.Now()
	boom := errors.New("boom")
	err = pump(context.Background(), gen, &rawEncoder{fail: boom}, &recorder{}, tick)
	if !errors.Is(err, boom) {
		t.Fatalf("expected encode error, got %v", err)
	}
}

func TestServeHTTPRejectsBadOffers(t *testing.T) {
	encoderCalls := 0
	factory := func(rate, channels, bitrate int) (Encoder, error) {
		encoderCalls++
		return nil, errors.New("no codec")
	}
	h := NewHandler(config.StreamConfig{Enabled: true, Bitrate: 32000}, config.ToneConfig{Frequency: 600, Amplitude: 0.5}, factory, newLogger())

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing text", `{"offer":{"type":"offer","sdp":"v=0"}}`, http.StatusBadRequest},
		{"missing offer", `{"text":"SOS"}`, http.StatusBadRequest},
		{"unsupported character", `{"text":"S€S","offer":{"type":"offer","sdp":"v=0"}}`, http.StatusUnprocessableEntity},
		{"invalid amplitude", `{"text":"SOS","amplitude":2,"offer":{"type":"offer","sdp":"v=0"}}`, http.StatusBadRequest},
		{"encoder failure", `{"text":"SOS","offer":{"type":"offer","sdp":"v=0"}}`, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/offer", strings.NewReader(tc.body))
			h.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
	if encoderCalls != 1 {
		t.Fatalf("encoder should only be built for valid requests, got %d calls", encoderCalls)
	}
	if h.PeerCount() != 0 {
		t.Fatalf("expected no peers, got %d", h.PeerCount())
	}
}
