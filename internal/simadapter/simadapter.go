// Package simadapter implements a deterministic, in-memory ranging.Adapter
// (§4.2.1 of the design) used by the CLI demo and the test suite. It drives
// synthetic measurement streams for all four TechnologyTag values and is
// never to be mistaken for a real radio driver.
//
// The test-double shape — a struct implementing an interface and capturing
// its own state behind a mutex for deterministic assertions — is lifted
// from a test helper into a first-class package because the design also
// needs it as the CLI demo's only adapter implementation.
package simadapter

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ranging-core/rangingd/internal/ranging"
)

const (
	// defaultIntervalMs is used when a TechnologyConfig carries no explicit
	// interval for its technology.
	defaultIntervalMs = 200

	// backgroundThrottleFactor multiplies the tick interval once
	// AppBackgroundTimeout fires, matching the duty-cycle hint contract of
	// §4.2.
	backgroundThrottleFactor = 4
)

// Option configures an Adapter at construction.
type Option func(*Adapter)

// WithFailToStart forces every Start call to fail with
// ranging.AdapterFailedToStart, for exercising S2-style failure paths
// deterministically in tests.
func WithFailToStart() Option {
	return func(a *Adapter) { a.failToStart = true }
}

// WithBaseDistance sets the nominal distance (meters) samples jitter
// around. Defaults to 1.5m.
func WithBaseDistance(m float64) Option {
	return func(a *Adapter) { a.baseDistance = m }
}

// WithAoA causes emitted samples to carry azimuth/elevation, for exercising
// angle-of-arrival consumers. Only meaningful for TechUWB.
func WithAoA() Option {
	return func(a *Adapter) { a.aoa = true }
}

// peerStream is the per-peer goroutine state for a running Adapter.
type peerStream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Adapter is a single deterministic ranging.Adapter implementation
// parameterized at construction by TechnologyTag (§4.2.1, C12).
type Adapter struct {
	tech TechnologyTagHolder

	failToStart  bool
	baseDistance float64
	aoa          bool

	mu        sync.Mutex
	started   bool
	cb        ranging.AdapterCallback
	streams   map[ranging.PeerId]*peerStream
	intervalMs uint64 // atomic-ish under mu; current effective tick interval
	foreground bool
	tsSeq      uint64
}

// TechnologyTagHolder avoids importing ranging twice under two names; it is
// just ranging.TechnologyTag, aliased here for readability at call sites.
type TechnologyTagHolder = ranging.TechnologyTag

// NewAdapter constructs a simulated Adapter for tech.
func NewAdapter(tech ranging.TechnologyTag, opts ...Option) *Adapter {
	a := &Adapter{
		tech:         tech,
		baseDistance: 1.5,
		foreground:   true,
		streams:      make(map[ranging.PeerId]*peerStream),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Start implements ranging.Adapter.
func (a *Adapter) Start(_ context.Context, cfg ranging.TechnologyConfig, cb ranging.AdapterCallback) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ranging.ErrAlreadyStarted
	}
	if a.failToStart {
		a.mu.Unlock()
		cb.OnClosed(ranging.AdapterFailedToStart)
		return nil
	}

	a.started = true
	a.cb = cb
	a.intervalMs = uint64(intervalFromConfig(cfg.Config))
	peers := append([]ranging.PeerId(nil), cfg.Peers...)
	a.mu.Unlock()

	started := make([]ranging.PeerId, 0, len(peers))
	for _, p := range peers {
		a.startPeerLocked(p)
		started = append(started, p)
	}

	cb.OnStarted(started)
	return nil
}

func intervalFromConfig(cfg ranging.PerTechnologyConfig) int {
	switch cfg.Tech {
	case ranging.TechUWB:
		if cfg.Uwb != nil && cfg.Uwb.IntervalMs > 0 {
			return int(cfg.Uwb.IntervalMs)
		}
	case ranging.TechCS:
		if cfg.Cs != nil && cfg.Cs.IntervalMs > 0 {
			return int(cfg.Cs.IntervalMs)
		}
	case ranging.TechRTT:
		if cfg.Rtt != nil && cfg.Rtt.IntervalMs > 0 {
			return int(cfg.Rtt.IntervalMs)
		}
	case ranging.TechRSSI:
		if cfg.Rssi != nil && cfg.Rssi.IntervalMs > 0 {
			return int(cfg.Rssi.IntervalMs)
		}
	}
	return defaultIntervalMs
}

// startPeerLocked spawns the per-peer emission goroutine. Caller must not
// hold a.mu; this method acquires it itself to register the stream.
func (a *Adapter) startPeerLocked(peer ranging.PeerId) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.streams[peer] = &peerStream{cancel: cancel, done: done}
	a.mu.Unlock()

	go a.runPeer(ctx, done, peer)
}

// runPeer ticks at the adapter's current interval (re-read each cycle so
// reconfigure/foreground hints take effect without restarting the stream)
// and emits one synthetic Data sample per tick with small injected jitter.
func (a *Adapter) runPeer(ctx context.Context, done chan struct{}, peer ranging.PeerId) {
	defer close(done)

	for {
		interval := a.currentInterval()
		timer := time.NewTimer(ranging.ApplyJitter(time.Duration(interval) * time.Millisecond))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			a.emit(peer)
		}
	}
}

func (a *Adapter) currentInterval() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	ms := a.intervalMs
	if ms == 0 {
		ms = defaultIntervalMs
	}
	if !a.foreground {
		ms *= backgroundThrottleFactor
	}
	return ms
}

func (a *Adapter) emit(peer ranging.PeerId) {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.tsSeq++
	ts := a.tsSeq * 100
	cb := a.cb
	dist := a.baseDistance + (rand.Float64()-0.5)*0.1
	aoa := a.aoa
	tech := a.tech
	a.mu.Unlock()

	raw := ranging.RawMeasurement{
		Tech:        tech,
		TimestampMs: ts,
		DistanceM:   dist,
	}
	if aoa && tech == ranging.TechUWB {
		az := (rand.Float64() - 0.5) * 0.2
		el := (rand.Float64() - 0.5) * 0.1
		raw.AzimuthRad = &az
		raw.ElevationRad = &el
	}
	cb.OnData(peer, raw)
}

// Stop implements ranging.Adapter. It cancels every peer stream, waits for
// them to exit, then emits Stopped(peers) followed by Closed(LocalRequest)
// in order (§4.2).
func (a *Adapter) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	streams := a.streams
	a.streams = make(map[ranging.PeerId]*peerStream)
	cb := a.cb
	a.mu.Unlock()

	peers := make([]ranging.PeerId, 0, len(streams))
	for p, st := range streams {
		st.cancel()
		<-st.done
		peers = append(peers, p)
	}

	if cb != nil {
		cb.OnStopped(peers)
		cb.OnClosed(ranging.AdapterLocalRequest)
	}
}

// SupportsDynamicPeers implements ranging.Adapter: the simulated adapter
// always supports add/remove.
func (a *Adapter) SupportsDynamicPeers() bool { return true }

// AddPeer implements ranging.Adapter.
func (a *Adapter) AddPeer(_ ranging.PerTechnologyConfig, peer ranging.PeerId) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return ranging.ErrSessionNotRunning
	}
	if _, exists := a.streams[peer]; exists {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	a.startPeerLocked(peer)
	return nil
}

// RemovePeer implements ranging.Adapter.
func (a *Adapter) RemovePeer(peer ranging.PeerId) error {
	a.mu.Lock()
	st, ok := a.streams[peer]
	if ok {
		delete(a.streams, peer)
	}
	cb := a.cb
	a.mu.Unlock()

	if !ok {
		return nil
	}
	st.cancel()
	<-st.done
	if cb != nil {
		cb.OnStopped([]ranging.PeerId{peer})
	}
	return nil
}

// SupportsReconfigureInterval implements ranging.Adapter.
func (a *Adapter) SupportsReconfigureInterval() bool { return true }

// ReconfigureInterval implements ranging.Adapter; takes effect on each
// peer stream's next tick.
func (a *Adapter) ReconfigureInterval(ms uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.intervalMs = uint64(ms)
	return nil
}

// AppForegroundChanged implements ranging.Adapter: restores the nominal
// tick period when fg is true.
func (a *Adapter) AppForegroundChanged(isForeground bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.foreground = isForeground
}

// AppBackgroundTimeout implements ranging.Adapter: throttles the tick
// period by backgroundThrottleFactor.
func (a *Adapter) AppBackgroundTimeout() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.foreground = false
}

// Factory returns a ranging.AdapterFactory that builds a fresh simulated
// Adapter per call, applying opts to each one. This is the factory wired
// into both cmd/rangingd and cmd/rangingctl since neither ships a real
// radio driver (§1 Out of scope).
func Factory(opts ...Option) ranging.AdapterFactory {
	return func(tech ranging.TechnologyTag) ranging.Adapter {
		return NewAdapter(tech, opts...)
	}
}

// SeedCapabilities publishes Enabled availability for every technology this
// build supports, backed by this simulated adapter. A real deployment would
// instead reflect the host platform's actual radio capabilities here.
func SeedCapabilities(reg *ranging.CapabilityRegistry) {
	uwbCaps := &ranging.UwbCapabilities{
		ConfigIDs:       []ranging.UwbConfigID{ranging.ConfigUnicastDsTwr, ranging.ConfigMulticastDsTwr},
		Channels:        []uint8{5, 9},
		PreambleIndexes: []uint8{10, 25},
		MinIntervalMs:   100,
		SlotDurationsMs: []uint8{2, 3},
		SupportsAoA:     true,
		Roles:           []ranging.Role{ranging.RoleInitiator, ranging.RoleResponder},
		SupportedRates:  []ranging.UpdateRate{ranging.RateSlow, ranging.RateNormal, ranging.RateFast},
	}

	reg.SetAvailability(ranging.TechUWB, ranging.AvailabilityEnabled, uwbCaps)
	reg.SetAvailability(ranging.TechCS, ranging.AvailabilityEnabled, nil)
	reg.SetAvailability(ranging.TechRTT, ranging.AvailabilityEnabled, nil)
	reg.SetAvailability(ranging.TechRSSI, ranging.AvailabilityEnabled, nil)
}
