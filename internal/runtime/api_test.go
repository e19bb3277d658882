package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-morse/internal/capability"
	"github.com/loqalabs/loqa-morse/internal/config"
	"github.com/loqalabs/loqa-morse/internal/eventstore"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Tone.SampleRate = 8000
	cfg.Tone.Frequency = 600
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config, deps apiDeps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newAPI(cfg, newLogger(), deps).routes())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func openStore(t *testing.T) *eventstore.Store {
	t.Helper()
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "conversions.db"),
		RetentionMode: "persistent",
	}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestHealthAndReady(t *testing.T) {
	var ready atomic.Bool
	srv := newTestServer(t, testConfig(), apiDeps{ready: ready.Load})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready, got %d", resp.StatusCode)
	}

	ready.Store(true)
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}
}

func TestTranslate(t *testing.T) {
	store := openStore(t)
	srv := newTestServer(t, testConfig(), apiDeps{store: store})

	resp := post(t, srv.URL+"/v1/translate", `{"text":"  sos "}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var got translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := translateResponse{Text: "SOS", Morse: "... --- ... /", Units: 34, LoopMS: 3400}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	list, err := store.ListConversions(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Source != "http" || list[0].Units != 34 {
		t.Fatalf("unexpected history %+v", list)
	}
}

func TestTranslateErrors(t *testing.T) {
	srv := newTestServer(t, testConfig(), apiDeps{})
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"unsupported character", `{"text":"HI€"}`, http.StatusUnprocessableEntity},
		{"empty text", `{"text":"   "}`, http.StatusBadRequest},
		{"invalid json", `{"text":`, http.StatusBadRequest},
		{"unknown field", `{"text":"SOS","voice":"x"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := post(t, srv.URL+"/v1/translate", tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["error"] == "" {
				t.Fatalf("expected error body, got %v (%v)", body, err)
			}
		})
	}
}

func decodeWAV(t *testing.T, data []byte) (sampleRate int, samples []int) {
	t.Helper()
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		t.Fatal("response is not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode pcm: %v", err)
	}
	return int(dec.SampleRate), buf.Data
}

func TestRenderDefaultsToOneLoop(t *testing.T) {
	srv := newTestServer(t, testConfig(), apiDeps{})
	resp := post(t, srv.URL+"/v1/render", `{"text":"SOS"}`)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("unexpected content type %q", ct)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	rate, samples := decodeWAV(t, data)
	if rate != 8000 {
		t.Fatalf("unexpected sample rate %d", rate)
	}
	// 34 units of 800 samples
	if len(samples) != 27200 {
		t.Fatalf("expected one loop of 27200 samples, got %d", len(samples))
	}
}

func TestRenderDurationAndOverrides(t *testing.T) {
	srv := newTestServer(t, testConfig(), apiDeps{})
	resp := post(t, srv.URL+"/v1/render", `{"text":"E","duration_ms":250,"sample_rate":16000,"frequency":700}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	rate, samples := decodeWAV(t, data)
	if rate != 16000 || len(samples) != 4000 {
		t.Fatalf("unexpected render rate=%d samples=%d", rate, len(samples))
	}
}

func TestRenderErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Render.MaxDurationMS = 1000
	srv := newTestServer(t, cfg, apiDeps{})
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"too long", `{"text":"SOS","duration_ms":5000}`, http.StatusBadRequest},
		{"unsupported character", `{"text":"€"}`, http.StatusUnprocessableEntity},
		{"invalid amplitude", `{"text":"SOS","amplitude":3}`, http.StatusBadRequest},
		{"sample rate too high", `{"text":"E","duration_ms":100,"sample_rate":50000000}`, http.StatusBadRequest},
		{"missing text", `{}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := post(t, srv.URL+"/v1/render", tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
		})
	}
}

func TestConversionsAndNodes(t *testing.T) {
	store := openStore(t)
	voice := capability.Voice{UnitsPerSecond: 10, MaxSampleRate: 48000}
	nodes := []capability.NodeInfo{
		{ID: "morse-node-1", Role: "tts", Voice: voice, Healthy: true},
		{ID: "morse-node-2", Role: "tts", Voice: voice},
	}
	query := func(filters ...capability.Filter) []capability.NodeInfo {
		out := []capability.NodeInfo{}
	next:
		for _, n := range nodes {
			for _, f := range filters {
				if !f(n) {
					continue next
				}
			}
			out = append(out, n)
		}
		return out
	}
	srv := newTestServer(t, testConfig(), apiDeps{store: store, nodes: query})

	post(t, srv.URL+"/v1/translate", `{"text":"A"}`)
	post(t, srv.URL+"/v1/translate", `{"text":"€"}`)

	resp, err := http.Get(srv.URL + "/v1/conversions?limit=1")
	if err != nil {
		t.Fatalf("conversions: %v", err)
	}
	defer resp.Body.Close()
	var list []conversionView
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].Status != eventstore.StatusFailed {
		t.Fatalf("expected newest failed conversion, got %+v", list)
	}

	bad, err := http.Get(srv.URL + "/v1/conversions?limit=zero")
	if err != nil {
		t.Fatalf("conversions: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", bad.StatusCode)
	}

	getNodes := func(path string) (int, []capability.NodeInfo) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("nodes: %v", err)
		}
		defer resp.Body.Close()
		var got []capability.NodeInfo
		if resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatalf("decode nodes: %v", err)
			}
		}
		return resp.StatusCode, got
	}

	if status, got := getNodes("/v1/nodes"); status != http.StatusOK || len(got) != 2 {
		t.Fatalf("unexpected nodes %d %+v", status, got)
	}
	if _, got := getNodes("/v1/nodes?healthy=true"); len(got) != 1 || got[0].ID != "morse-node-1" {
		t.Fatalf("unexpected healthy nodes %+v", got)
	}
	if status, got := getNodes("/v1/nodes?sample_rate=96000"); status != http.StatusOK || len(got) != 0 {
		t.Fatalf("expected no node for 96 kHz, got %d %+v", status, got)
	}
	for _, bad := range []string{"/v1/nodes?sample_rate=fast", "/v1/nodes?healthy=maybe"} {
		if status, _ := getNodes(bad); status != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", bad, status)
		}
	}
}

func TestOfferRouteOnlyWhenStreaming(t *testing.T) {
	srv := newTestServer(t, testConfig(), apiDeps{})
	resp := post(t, srv.URL+"/v1/offer", `{}`)
	if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected offer route to be absent, got %d", resp.StatusCode)
	}

	var called atomic.Bool
	offer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
		w.WriteHeader(http.StatusTeapot)
	})
	srv = newTestServer(t, testConfig(), apiDeps{offer: offer})
	resp = post(t, srv.URL+"/v1/offer", `{}`)
	if !called.Load() || resp.StatusCode != http.StatusTeapot {
		t.Fatalf("expected offer handler to be mounted, got %d", resp.StatusCode)
	}
}
