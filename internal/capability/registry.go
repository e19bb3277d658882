// Package capability tracks the tone nodes reachable on the bus. Every node
// periodically broadcasts a beacon describing the voice it synthesizes with;
// peers that stop beaconing are marked unhealthy and eventually forgotten.
package capability

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/loqalabs/loqa-morse/internal/bus"
	"github.com/loqalabs/loqa-morse/internal/config"
	"github.com/loqalabs/loqa-morse/internal/protocol"
	"github.com/loqalabs/loqa-morse/internal/synth"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MorseCapability names what a tone node answers on morse.request.
const MorseCapability = "tts.morse"

// A silent peer is dropped after this many heartbeat timeouts.
const expiryFactor = 3

// Voice is the tone a node renders when a request does not override it.
type Voice struct {
	SampleRate     int     `json:"sample_rate"`
	Frequency      float64 `json:"frequency"`
	Amplitude      float64 `json:"amplitude"`
	UnitsPerSecond int     `json:"units_per_second"`
	MaxSampleRate  int     `json:"max_sample_rate"`
}

// VoiceFor describes the tone configuration of this build.
func VoiceFor(tone config.ToneConfig) Voice {
	return Voice{
		SampleRate:     tone.SampleRate,
		Frequency:      tone.Frequency,
		Amplitude:      tone.Amplitude,
		UnitsPerSecond: synth.UnitsPerSecond,
		MaxSampleRate:  synth.MaxSampleRate,
	}
}

// NodeInfo is a tone node as last seen on the bus.
type NodeInfo struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Capability string    `json:"capability"`
	Voice      Voice     `json:"voice"`
	LastSeen   time.Time `json:"last_seen"`
	Healthy    bool      `json:"healthy"`
	Local      bool      `json:"local"`
}

type beacon struct {
	NodeID    string    `json:"node_id"`
	Role      string    `json:"role"`
	Voice     Voice     `json:"voice"`
	Leaving   bool      `json:"leaving,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter selects nodes in Query.
type Filter func(NodeInfo) bool

// OnlyHealthy keeps nodes whose beacons are current.
func OnlyHealthy(n NodeInfo) bool { return n.Healthy }

// SupportsSampleRate keeps nodes able to synthesize at rate.
func SupportsSampleRate(rate int) Filter {
	return func(n NodeInfo) bool {
		return rate >= n.Voice.UnitsPerSecond && rate <= n.Voice.MaxSampleRate
	}
}

type Registry struct {
	cfg      config.NodeConfig
	voice    Voice
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
	bus      *bus.Client
	clock    func() time.Time

	mu    sync.RWMutex
	nodes map[string]*NodeInfo

	sub     *nats.Subscription
	metrics metric.Registration
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRegistry announces this node with the voice described by tone and
// starts tracking peers.
func NewRegistry(ctx context.Context, cfg config.NodeConfig, tone config.ToneConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	r := newRegistry(cfg, VoiceFor(tone), busClient, log)

	sub, err := busClient.Conn().Subscribe(protocol.SubjectNodeBeaconPrefix+"*", r.handleBeacon)
	if err != nil {
		return nil, fmt.Errorf("subscribe node beacons: %w", err)
	}
	r.sub = sub
	r.initMetrics()

	if err := r.beacon(false); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run(ctx)
	return r, nil
}

func newRegistry(cfg config.NodeConfig, voice Voice, busClient *bus.Client, log *slog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		voice:    voice,
		interval: time.Duration(cfg.HeartbeatInterval) * time.Millisecond,
		timeout:  time.Duration(cfg.HeartbeatTimeout) * time.Millisecond,
		log:      log.With(slog.String("component", "node-registry")),
		bus:      busClient,
		clock:    time.Now,
		nodes:    make(map[string]*NodeInfo),
	}
}

// Close tells peers this node is leaving and stops tracking.
func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	if err := r.beacon(true); err != nil {
		r.log.Debug("failed to publish leave beacon", slog.String("error", err.Error()))
	}
	if r.sub != nil {
		_ = r.sub.Drain()
	}
	if r.metrics != nil {
		_ = r.metrics.Unregister()
	}
}

func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.beacon(false); err != nil {
				r.log.Warn("failed to publish beacon", slog.String("error", err.Error()))
			}
			r.sweep()
		}
	}
}

// beacon publishes this node's voice. The local entry is refreshed only when
// the publish succeeds, so a node cut off from the bus turns unhealthy.
func (r *Registry) beacon(leaving bool) error {
	b := beacon{
		NodeID:    r.cfg.ID,
		Role:      r.cfg.Role,
		Voice:     r.voice,
		Leaving:   leaving,
		Timestamp: r.clock().UTC(),
	}
	if err := r.bus.PublishJSON(protocol.SubjectNodeBeaconPrefix+r.cfg.ID, b); err != nil {
		return err
	}
	if !leaving {
		r.observe(b)
	}
	return nil
}

func (r *Registry) handleBeacon(msg *nats.Msg) {
	var b beacon
	if err := json.Unmarshal(msg.Data, &b); err != nil {
		r.log.Warn("invalid node beacon", slog.String("error", err.Error()))
		return
	}
	if b.NodeID == "" {
		return
	}
	if b.NodeID == r.cfg.ID {
		// our own echo; the local entry is maintained by beacon()
		return
	}
	if b.Leaving {
		r.forget(b.NodeID)
		return
	}
	r.observe(b)
}

// observe records b as seen now. The sender's timestamp is informational
// only; liveness uses the local clock so peer skew cannot expire a node.
func (r *Registry) observe(b beacon) {
	seen := r.clock().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[b.NodeID]
	if !ok {
		node = &NodeInfo{ID: b.NodeID, Capability: MorseCapability, Local: b.NodeID == r.cfg.ID}
		r.nodes[b.NodeID] = node
		r.log.Info("tone node joined", slog.String("node_id", b.NodeID), slog.Int("sample_rate", b.Voice.SampleRate))
	}
	node.Role = b.Role
	node.Voice = b.Voice
	node.LastSeen = seen
	node.Healthy = true
}

func (r *Registry) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[id]; ok {
		delete(r.nodes, id)
		r.log.Info("tone node left", slog.String("node_id", id))
	}
}

// sweep marks nodes silent for longer than the heartbeat timeout unhealthy and
// drops remote nodes silent for expiryFactor timeouts.
func (r *Registry) sweep() {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, node := range r.nodes {
		silent := now.Sub(node.LastSeen)
		if silent > r.timeout {
			node.Healthy = false
		}
		if !node.Local && silent > expiryFactor*r.timeout {
			delete(r.nodes, id)
			r.log.Info("tone node expired", slog.String("node_id", id), slog.Duration("silent", silent))
		}
	}
}

// Healthy reports whether this node's own beacons are current.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[r.cfg.ID]
	return ok && node.Healthy
}

// Query returns the nodes passing every filter, ordered by ID.
func (r *Registry) Query(filters ...Filter) []NodeInfo {
	r.mu.RLock()
	results := make([]NodeInfo, 0, len(r.nodes))
	for _, node := range r.nodes {
		if matches(*node, filters) {
			results = append(results, *node)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(results, func(a, b NodeInfo) int { return cmp.Compare(a.ID, b.ID) })
	return results
}

func matches(n NodeInfo, filters []Filter) bool {
	for _, f := range filters {
		if f != nil && !f(n) {
			return false
		}
	}
	return true
}

func (r *Registry) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/loqa-morse")
	gauge, err := meter.Int64ObservableGauge("morse.nodes", metric.WithDescription("Known tone nodes by health"))
	if err != nil {
		r.log.Warn("failed to create node gauge", slog.String("error", err.Error()))
		return
	}
	healthy := metric.WithAttributes(attribute.Bool("healthy", true))
	unhealthy := metric.WithAttributes(attribute.Bool("healthy", false))
	r.metrics, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		up, down := r.counts()
		obs.ObserveInt64(gauge, up, healthy)
		obs.ObserveInt64(gauge, down, unhealthy)
		return nil
	}, gauge)
	if err != nil {
		r.log.Warn("failed to register node gauge", slog.String("error", err.Error()))
	}
}

func (r *Registry) counts() (healthy, unhealthy int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, node := range r.nodes {
		if node.Healthy {
			healthy++
		} else {
			unhealthy++
		}
	}
	return healthy, unhealthy
}
