// Package stream serves a looping Morse message to browsers over WebRTC.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-morse/internal/config"
	"github.com/loqalabs/loqa-morse/internal/morse"
	"github.com/loqalabs/loqa-morse/internal/synth"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	// SampleRate is the Opus clock rate every peer generator runs at.
	SampleRate    = 48000
	FrameDuration = 20 * time.Millisecond
	frameSamples  = SampleRate / int(time.Second/FrameDuration)
	maxPacketSize = 4000
)

// Encoder compresses one frame of 16-bit PCM into data.
type Encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// EncoderFactory builds a mono encoder for a peer.
type EncoderFactory func(sampleRate, channels, bitrate int) (Encoder, error)

type sampleWriter interface {
	WriteSample(media.Sample) error
}

// OfferRequest is the body of an offer: the message to loop, optional tone
// overrides and the browser's SDP offer.
type OfferRequest struct {
	Text      string                    `json:"text"`
	Frequency float64                   `json:"frequency,omitempty"`
	Amplitude float64                   `json:"amplitude,omitempty"`
	Offer     webrtc.SessionDescription `json:"offer"`
}

// Handler negotiates one peer per offer and streams a private generator to it.
type Handler struct {
	cfg        config.StreamConfig
	params     synth.Params
	newEncoder EncoderFactory
	log        *slog.Logger

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]context.CancelFunc
}

func NewHandler(cfg config.StreamConfig, tone config.ToneConfig, newEncoder EncoderFactory, log *slog.Logger) *Handler {
	return &Handler{
		cfg: cfg,
		params: synth.Params{
			SampleRate: SampleRate,
			Frequency:  tone.Frequency,
			Amplitude:  tone.Amplitude,
		},
		newEncoder: newEncoder,
		log:        log.With(slog.String("component", "webrtc-stream")),
		peers:      make(map[*webrtc.PeerConnection]context.CancelFunc),
	}
}

// PeerCount returns the number of active peers.
func (h *Handler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req OfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid offer request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if req.Offer.Type != webrtc.SDPTypeOffer || req.Offer.SDP == "" {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	params := h.params
	if req.Frequency > 0 {
		params.Frequency = req.Frequency
	}
	if req.Amplitude > 0 {
		params.Amplitude = req.Amplitude
	}
	gen, err := synth.FromText(req.Text, params)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, morse.ErrUnsupportedCharacter) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}

	enc, err := h.newEncoder(SampleRate, synth.Channels, h.cfg.Bitrate)
	if err != nil {
		h.log.Error("create encoder failed", slog.String("error", err.Error()))
		http.Error(w, "create encoder failed", http.StatusInternalServerError)
		return
	}

	answer, err := h.negotiate(r.Context(), req.Offer, gen, enc)
	if err != nil {
		h.log.Warn("webrtc negotiation failed", slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(answer)
}

func (h *Handler) negotiate(ctx context.Context, offer webrtc.SessionDescription, gen *synth.Generator, enc Encoder) (*webrtc.SessionDescription, error) {
	var iceServers []webrtc.ICEServer
	if len(h.cfg.ICEServer) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: h.cfg.ICEServer}}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: SampleRate, Channels: synth.Channels},
		"audio",
		"loqa-morse",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add track: %w", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	peerCtx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.peers[pc] = cancel
	h.mu.Unlock()
	h.log.Info("webrtc peer connected", slog.Int("peers", h.PeerCount()))

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			h.removePeer(pc)
			h.log.Info("webrtc peer disconnected", slog.Int("peers", h.PeerCount()))
		}
	})

	go func() {
		ticker := time.NewTicker(FrameDuration)
		defer ticker.Stop()
		if err := pump(peerCtx, gen, enc, track, ticker.C); err != nil && !errors.Is(err, context.Canceled) {
			h.log.Warn("webrtc stream stopped", slog.String("error", err.Error()))
			h.removePeer(pc)
		}
	}()

	return pc.LocalDescription(), nil
}

func (h *Handler) removePeer(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	cancel, ok := h.peers[pc]
	delete(h.peers, pc)
	h.mu.Unlock()
	if ok {
		cancel()
		_ = pc.Close()
	}
}

// Close disconnects every peer.
func (h *Handler) Close() {
	h.mu.Lock()
	peers := make([]*webrtc.PeerConnection, 0, len(h.peers))
	for pc := range h.peers {
		peers = append(peers, pc)
	}
	h.mu.Unlock()
	for _, pc := range peers {
		h.removePeer(pc)
	}
}

// pump encodes one frame per tick until ctx is done or the writer fails.
func pump(ctx context.Context, gen *synth.Generator, enc Encoder, out sampleWriter, tick <-chan time.Time) error {
	pcm := make([]int16, frameSamples)
	packet := make([]byte, maxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		}
		gen.FillInt16(pcm)
		n, err := enc.Encode(pcm, packet)
		if err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
		if err := out.WriteSample(media.Sample{Data: packet[:n], Duration: FrameDuration}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
}
