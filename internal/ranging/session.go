package ranging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// MetricsSink receives structured lifecycle events from a Session (C9). The
// interface lives in this package so Session never imports the concrete
// Prometheus collector; internal/metrics.Collector implements it directly.
type MetricsSink interface {
	SessionStarted()
	SessionStopped(reason CloseReason)
	TechnologyStarted(tech TechnologyTag)
	TechnologyStopped(tech TechnologyTag, reason CloseReason)
	MeasurementEmitted(tech TechnologyTag)
	OobSelectionFailed(reason ConfigSelectionReason)
}

type noopMetrics struct{}

func (noopMetrics) SessionStarted()                                     {}
func (noopMetrics) SessionStopped(CloseReason)                          {}
func (noopMetrics) TechnologyStarted(TechnologyTag)                     {}
func (noopMetrics) TechnologyStopped(TechnologyTag, CloseReason)        {}
func (noopMetrics) MeasurementEmitted(TechnologyTag)                    {}
func (noopMetrics) OobSelectionFailed(ConfigSelectionReason)            {}

// ClientEventKind is the closed set of client-callback events (§6).
type ClientEventKind uint8

const (
	EventSessionStarted ClientEventKind = iota
	EventTechnologyStarted
	EventData
	EventTechnologyStopped
	EventSessionStopped
)

// ClientEvent is delivered in order per session over Session.Events().
type ClientEvent struct {
	Kind        ClientEventKind
	Tech        TechnologyTag
	Peers       []PeerId
	Peer        PeerId
	Measurement Measurement
	Reason      CloseReason
}

// SessionOption configures optional Session dependencies (functional
// options).
type SessionOption func(*Session)

// WithMetrics attaches a MetricsSink to the session.
func WithMetrics(m MetricsSink) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithWatchdog overrides the default 10s adapter-stop watchdog (§5, §6).
func WithWatchdog(d time.Duration) SessionOption {
	return func(s *Session) { s.watchdog = d }
}

// WithMaxFusionWindow overrides the default filter window upper bound (§6
// max_fusion_window).
func WithMaxFusionWindow(n int) SessionOption {
	return func(s *Session) { s.maxFusionWindow = n }
}

// WithMinFusionWindow overrides the default filter window lower bound (§6
// min_fusion_window).
func WithMinFusionWindow(n int) SessionOption {
	return func(s *Session) { s.minFusionWindow = n }
}

// WithQueueDepth overrides the default mailbox capacity (§6
// measurement_queue_depth).
func WithQueueDepth(n int) SessionOption {
	return func(s *Session) { s.queueDepth = n }
}

// WithDefaultUpdateRate overrides the rate the OOB Config Selector (§4.4)
// falls back to when no protocol-defined rate fits the negotiated interval
// window (§6 default_update_rate).
func WithDefaultUpdateRate(r UpdateRate) SessionOption {
	return func(s *Session) { s.defaultUpdateRate = r }
}

const (
	defaultWatchdog        = 10 * time.Second
	defaultMinFusionWindow = 3
	defaultMaxFusionWindow = 5
	defaultQueueDepth      = 64
)

// techState tracks one adapter's bookkeeping within a running Session.
type techState struct {
	adapter       Adapter
	cfg           TechnologyConfig
	peers         map[PeerId]struct{}
	startedEver   bool
	closed        bool
	stopRequested bool

	// stoppedPeers snapshots the peers reported by the adapter's last
	// OnStopped callback, since onAdapterStopped drains them from peers
	// before the matching OnClosed arrives; onAdapterClosed reports this
	// set on TechnologyStopped rather than the now-empty peers map.
	stoppedPeers []PeerId
}

// Session is the per-client state machine of §4.3 (C7). All mutable state
// is owned exclusively by the goroutine running runLoop; every external
// caller communicates through the mailbox channel, the serial execution
// context described in §5.
type Session struct {
	handle  SessionHandle
	pref    SessionPreference
	factory AdapterFactory

	watchdog          time.Duration
	minFusionWindow   int
	maxFusionWindow   int
	queueDepth        int
	defaultUpdateRate UpdateRate

	metrics MetricsSink
	logger  *slog.Logger

	state atomic.Uint32 // State, for lock-free external reads (Snapshot)

	mailbox chan sessionMsg
	events  chan ClientEvent

	techs        map[TechnologyTag]*techState
	engines      map[PeerId]*FusionEngine
	emittedCount uint32

	// pendingCfgs carries the resolved per-technology configs from
	// msgStart/msgOobResult through to ActionStartAdapters.
	pendingCfgs []TechnologyConfig
	// terminalReason carries the CloseReason decided by the event that
	// triggered adapter teardown through to the eventual
	// ActionEmitSessionStoppedLocal/NoPeers action.
	terminalReason CloseReason

	done chan struct{}
}

type msgKind uint8

const (
	msgStart msgKind = iota
	msgAdapterStarted
	msgAdapterStopped
	msgAdapterData
	msgAdapterClosed
	msgOobResult
	msgStop
	msgAddPeer
	msgRemovePeer
	msgReconfigure
	msgForeground
	msgBackgroundTimeout
)

type sessionMsg struct {
	kind      msgKind
	tech      TechnologyTag
	peers     []PeerId
	peer      PeerId
	raw       RawMeasurement
	reason    AdapterCloseReason
	cfgs      []TechnologyConfig
	oobResult OobSelectionResult
	oobErr    error
	ms        uint16
	fg        bool
	perTech   PerTechnologyConfig
	errCh     chan error
}

// NewSession constructs a Created-state Session for handle/pref. factory
// builds adapters on demand; it must be non-nil.
func NewSession(handle SessionHandle, pref SessionPreference, factory AdapterFactory, opts ...SessionOption) (*Session, error) {
	if pref.Raw == nil && pref.Oob == nil {
		return nil, fmt.Errorf("%w: preference must carry Raw or Oob", ErrInvalidArgument)
	}
	if pref.Raw != nil && pref.Oob != nil {
		return nil, fmt.Errorf("%w: preference must not carry both Raw and Oob", ErrInvalidArgument)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: adapter factory is required", ErrInvalidArgument)
	}

	s := &Session{
		handle:          handle,
		pref:            pref,
		factory:         factory,
		watchdog:        defaultWatchdog,
		minFusionWindow: defaultMinFusionWindow,
		maxFusionWindow: defaultMaxFusionWindow,
		queueDepth:      defaultQueueDepth,
		metrics:         noopMetrics{},
		logger:          slog.Default(),
		techs:           make(map[TechnologyTag]*techState),
		engines:         make(map[PeerId]*FusionEngine),
		done:            make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.mailbox = make(chan sessionMsg, s.queueDepth)
	s.events = make(chan ClientEvent, s.queueDepth)
	s.state.Store(uint32(StateCreated))

	return s, nil
}

// Handle returns the session's identity.
func (s *Session) Handle() SessionHandle { return s.handle }

// State returns the current FSM state via a lock-free atomic read, safe
// for concurrent external observers.
func (s *Session) State() State { return State(s.state.Load()) }

// Events returns the channel of client-visible lifecycle/data events.
func (s *Session) Events() <-chan ClientEvent { return s.events }

// EmittedCount returns the cumulative number of Data events emitted so far.
func (s *Session) EmittedCount() uint32 { return atomic.LoadUint32(&s.emittedCount) }

// Run starts the session's serial execution goroutine. It returns
// immediately; use Start to begin adapter bootstrap once Run is active.
func (s *Session) Run(ctx context.Context) {
	go s.runLoop(ctx)
}

// Start kicks off the session per §4.3: for a Raw preference it starts
// adapters directly; for an Oob preference it runs the Config Selector
// first. It is idempotent-adjacent to the FSM: calling it twice has no
// effect once the state has left Created.
func (s *Session) Start() {
	if s.pref.Oob != nil {
		s.send(sessionMsg{kind: msgStart})
		return
	}
	s.send(sessionMsg{kind: msgStart, cfgs: s.pref.Raw.Configs})
}

// Stop issues stop() to every adapter (§4.3, §5). Safe to call multiple
// times and from any state.
func (s *Session) Stop() {
	s.send(sessionMsg{kind: msgStop})
}

// AddPeer fans out to the adapter for cfg.Tech if it supports dynamic peers.
func (s *Session) AddPeer(cfg PerTechnologyConfig, peer PeerId) error {
	errCh := make(chan error, 1)
	s.send(sessionMsg{kind: msgAddPeer, tech: cfg.Tech, peer: peer, perTech: cfg, errCh: errCh})
	return <-errCh
}

// RemovePeer fans out to the adapter serving tech.
func (s *Session) RemovePeer(tech TechnologyTag, peer PeerId) error {
	errCh := make(chan error, 1)
	s.send(sessionMsg{kind: msgRemovePeer, tech: tech, peer: peer, errCh: errCh})
	return <-errCh
}

// ReconfigureInterval fans out to every adapter.
func (s *Session) ReconfigureInterval(ms uint16) {
	s.send(sessionMsg{kind: msgReconfigure, ms: ms})
}

// AppForegroundChanged broadcasts the hint to every adapter.
func (s *Session) AppForegroundChanged(fg bool) {
	s.send(sessionMsg{kind: msgForeground, fg: fg})
}

// AppBackgroundTimeout broadcasts the hint to every adapter.
func (s *Session) AppBackgroundTimeout() {
	s.send(sessionMsg{kind: msgBackgroundTimeout})
}

// send enqueues m, dropping it with a log line if the mailbox is full
// rather than blocking the caller.
func (s *Session) send(m sessionMsg) {
	select {
	case s.mailbox <- m:
	case <-s.done:
	default:
		s.logger.Warn("session mailbox full, dropping message",
			slog.Uint64("handle", uint64(s.handle)), slog.Any("kind", m.kind))
	}
}

// emit delivers a ClientEvent, dropping (with a log) on backpressure.
func (s *Session) emit(ev ClientEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("session event channel full, dropping event",
			slog.Uint64("handle", uint64(s.handle)), slog.Any("kind", ev.Kind))
	}
}

func (s *Session) setState(st State) { s.state.Store(uint32(st)) }

// runLoop is the Session's single select loop over its mailbox and
// watchdog timer — the serial execution context of §5.
func (s *Session) runLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	var watchdogTimer *time.Timer
	var watchdogC <-chan time.Time

	armWatchdog := func() {
		if watchdogTimer != nil {
			watchdogTimer.Stop()
		}
		watchdogTimer = time.NewTimer(s.watchdog)
		watchdogC = watchdogTimer.C
	}
	disarmWatchdog := func() {
		if watchdogTimer != nil {
			watchdogTimer.Stop()
		}
		watchdogC = nil
	}

	for {
		select {
		case <-ctx.Done():
			s.forceClose(ReasonLocalRequest)
			return

		case <-watchdogC:
			disarmWatchdog()
			s.handleEvent(EventWatchdogExpired, sessionMsg{})
			if s.State() == StateClosed {
				return
			}

		case m, ok := <-s.mailbox:
			if !ok {
				return
			}
			s.dispatch(m, armWatchdog)
			if s.State() == StateClosed {
				return
			}
			// Teardown started by a measurement limit or a drained peer set
			// is guarded by the watchdog too, not only an explicit Stop.
			if s.State() == StateStopping && watchdogC == nil {
				armWatchdog()
			}
		}
	}
}

// dispatch routes one mailbox message to the FSM and executes its actions.
func (s *Session) dispatch(m sessionMsg, armWatchdog func()) {
	switch m.kind {
	case msgStart:
		if s.pref.Oob != nil {
			s.handleEvent(EventOobRequested, m)
		} else {
			s.pendingCfgs = m.cfgs
			s.handleEvent(EventStartRequested, m)
		}

	case msgOobResult:
		if m.oobErr != nil {
			s.metrics.OobSelectionFailed(selectionReason(m.oobErr))
			s.handleEvent(EventOobFailed, m)
			return
		}
		s.pendingCfgs = oobResultToConfigs(m.oobResult)
		s.handleEvent(EventOobSelected, m)

	case msgAdapterStarted:
		s.onAdapterStarted(m.tech, m.peers)

	case msgAdapterStopped:
		s.onAdapterStopped(m.tech, m.peers)

	case msgAdapterData:
		s.onAdapterData(m.tech, m.peer, m.raw)

	case msgAdapterClosed:
		s.onAdapterClosed(m.tech, m.reason)

	case msgStop:
		s.handleEvent(EventStopRequested, m)
		if s.State() == StateStopping {
			armWatchdog()
		}

	case msgAddPeer:
		m.errCh <- s.doAddPeer(m.tech, m.perTech, m.peer)

	case msgRemovePeer:
		m.errCh <- s.doRemovePeer(m.tech, m.peer)

	case msgReconfigure:
		for _, ts := range s.techs {
			if ts.adapter.SupportsReconfigureInterval() {
				_ = ts.adapter.ReconfigureInterval(m.ms)
			}
		}

	case msgForeground:
		for _, ts := range s.techs {
			ts.adapter.AppForegroundChanged(m.fg)
		}

	case msgBackgroundTimeout:
		for _, ts := range s.techs {
			ts.adapter.AppBackgroundTimeout()
		}
	}
}

func selectionReason(err error) ConfigSelectionReason {
	var cse *ConfigSelectionError
	if errors.As(err, &cse) {
		return cse.Reason
	}
	return ReasonNoCommonConfigID
}

// handleEvent runs the pure FSM over event and executes the resulting
// actions in order.
func (s *Session) handleEvent(event Event, m sessionMsg) {
	result := ApplyEvent(s.State(), event)
	if result.Changed {
		s.setState(result.NewState)
	}
	for _, a := range result.Actions {
		s.executeAction(a, m)
	}
}

func (s *Session) executeAction(a Action, m sessionMsg) {
	switch a {
	case ActionRunOobSelector:
		s.runOobSelector()

	case ActionStartAdapters:
		s.startAdapters(s.pendingCfgs)

	case ActionEmitSessionStarted:
		s.metrics.SessionStarted()
		s.emit(ClientEvent{Kind: EventSessionStarted})

	case ActionEmitSessionStoppedUnsupported:
		s.metrics.SessionStopped(ReasonUnsupported)
		s.emit(ClientEvent{Kind: EventSessionStopped, Reason: ReasonUnsupported})

	case ActionEmitSessionStoppedConfigSelection:
		s.metrics.SessionStopped(ReasonUnsupported)
		s.emit(ClientEvent{Kind: EventSessionStopped, Reason: ReasonUnsupported})

	case ActionIssueStopAll:
		s.stopAllAdapters()

	case ActionEmitSessionStoppedLocal:
		reason := s.terminalReason
		s.metrics.SessionStopped(reason)
		s.emit(ClientEvent{Kind: EventSessionStopped, Reason: reason})

	case ActionEmitSessionStoppedNoPeers:
		s.metrics.SessionStopped(ReasonNoPeersFound)
		s.emit(ClientEvent{Kind: EventSessionStopped, Reason: ReasonNoPeersFound})

	case ActionEmitSessionStoppedError:
		s.metrics.SessionStopped(ReasonError)
		s.emit(ClientEvent{Kind: EventSessionStopped, Reason: ReasonError})

	case ActionForceCloseStragglers:
		s.forceCloseStragglers()

	case ActionReleaseResources:
		s.engines = make(map[PeerId]*FusionEngine)
	}
}

// runOobSelector executes the OOB Config Selector (§4.4) synchronously on
// the serial context — it is pure CPU work with no blocking I/O, so no
// separate goroutine is warranted — then feeds the result back through the
// normal mailbox path to keep a single code path for success/failure.
func (s *Session) runOobSelector() {
	bundle := s.pref.Oob
	in := OobSelectionInput{
		Role:        s.pref.Role,
		Config:      s.pref.Config,
		FastestMs:   bundle.FastestMs,
		SlowestMs:   bundle.SlowestMs,
		Security:    bundle.Security,
		PeerCaps:    bundle.PeerCapsByDev,
		DefaultRate: s.defaultUpdateRate,
	}
	for _, d := range bundle.Devices {
		in.PeerOrder = append(in.PeerOrder, d.ID)
	}
	// Local capabilities are supplied by the host via the Capability
	// Registry in production; when absent from the bundle itself, an empty
	// OobBundle.PeerCapsByDev drives the selector to its own failure path
	// rather than panicking.
	result, err := SelectOobConfig(in)
	s.dispatch(sessionMsg{kind: msgOobResult, oobResult: result, oobErr: err}, func() {})
}

func oobResultToConfigs(r OobSelectionResult) []TechnologyConfig {
	if r.Multicast {
		peers := make([]PeerId, 0, len(r.PerPeer))
		for p := range r.PerPeer {
			peers = append(peers, p)
		}
		return []TechnologyConfig{{
			Multicast: true,
			Peers:     peers,
			Config:    PerTechnologyConfig{Tech: TechUWB, Uwb: &r.Local},
		}}
	}
	cfgs := make([]TechnologyConfig, 0, len(r.PerPeer))
	for p, params := range r.PerPeer {
		params := params
		cfgs = append(cfgs, TechnologyConfig{
			Peers:  []PeerId{p},
			Config: PerTechnologyConfig{Tech: TechUWB, Uwb: &params},
		})
	}
	return cfgs
}

func (s *Session) startAdapters(cfgs []TechnologyConfig) {
	anyAllocated := false
	for _, cfg := range cfgs {
		adapter := s.factory(cfg.Config.Tech)
		if adapter == nil {
			continue
		}
		ts := &techState{adapter: adapter, cfg: cfg, peers: make(map[PeerId]struct{})}
		for _, p := range cfg.Peers {
			ts.peers[p] = struct{}{}
		}
		s.techs[cfg.Config.Tech] = ts
		anyAllocated = true

		cb := &adapterCallback{session: s, tech: cfg.Config.Tech}
		if err := adapter.Start(context.Background(), cfg, cb); err != nil {
			ts.closed = true
			s.onAdapterClosed(cfg.Config.Tech, AdapterFailedToStart)
		}
	}
	if !anyAllocated {
		s.handleEvent(EventAllFailedToStart, sessionMsg{})
	}
}

func (s *Session) onAdapterStarted(tech TechnologyTag, peers []PeerId) {
	ts, ok := s.techs[tech]
	if !ok {
		return
	}
	first := !s.anyTechStarted()
	ts.startedEver = true
	for _, p := range peers {
		ts.peers[p] = struct{}{}
	}

	s.metrics.TechnologyStarted(tech)
	s.emit(ClientEvent{Kind: EventTechnologyStarted, Tech: tech, Peers: peers})

	if first {
		s.handleEvent(EventFirstStarted, sessionMsg{})
	}
}

func (s *Session) anyTechStarted() bool {
	for _, ts := range s.techs {
		if ts.startedEver {
			return true
		}
	}
	return false
}

func (s *Session) allTechsFailedToStart() bool {
	for _, ts := range s.techs {
		if !ts.closed || ts.startedEver {
			return false
		}
	}
	return len(s.techs) > 0
}

func (s *Session) onAdapterStopped(tech TechnologyTag, peers []PeerId) {
	ts, ok := s.techs[tech]
	if !ok {
		return
	}
	ts.stoppedPeers = append(ts.stoppedPeers, peers...)
	for _, p := range peers {
		delete(ts.peers, p)
		delete(s.engines, p)
	}
	if len(ts.peers) == 0 && s.noTechStillStarting() {
		reason := ReasonLocalRequest
		if !ts.stopRequested {
			reason = ReasonNoPeersFound
		}
		s.terminalReason = reason
		if reason == ReasonNoPeersFound {
			s.handleEvent(EventPeerSetDrainedRemote, sessionMsg{})
		} else {
			s.handleEvent(EventPeerSetDrainedLocal, sessionMsg{})
		}
	}
}

func (s *Session) noTechStillStarting() bool {
	for _, ts := range s.techs {
		if !ts.startedEver && !ts.closed {
			return false
		}
	}
	for _, ts := range s.techs {
		if len(ts.peers) > 0 {
			return false
		}
	}
	return true
}

func (s *Session) onAdapterData(tech TechnologyTag, peer PeerId, raw RawMeasurement) {
	if s.State() != StateRunning {
		return
	}
	engine, ok := s.engines[peer]
	if !ok {
		engine = NewFusionEngine(s.minFusionWindow, s.maxFusionWindow, s.fuserFor())
		s.engines[peer] = engine
	}

	// Feed auto-activates an unseen (peer, tech) stream and creates its
	// Filter on first sight; calling SetActive here on every sample would
	// replace (and reset) that Filter's accumulated history each time.
	fused, ok := engine.Feed(raw)
	if !ok {
		return
	}

	atomic.AddUint32(&s.emittedCount, 1)
	s.metrics.MeasurementEmitted(tech)
	s.emit(ClientEvent{Kind: EventData, Peer: peer, Measurement: fused})

	limit := s.pref.Config.MeasurementLimit
	if limit > 0 && s.EmittedCount() >= limit {
		s.terminalReason = ReasonLocalRequest
		s.handleEvent(EventMeasurementLimitReached, sessionMsg{})
	}
}

func (s *Session) fuserFor() Fuser {
	pref := preferredTech(s.techs)
	return NewFuser(s.pref.Config.SensorFusionEnabled, pref)
}

// preferredTech picks the highest-priority (declaration-order) technology
// among those configured for this session, for use as a Preferential
// fuser's pinned technology.
func preferredTech(techs map[TechnologyTag]*techState) TechnologyTag {
	for _, t := range []TechnologyTag{TechUWB, TechCS, TechRTT, TechRSSI} {
		if _, ok := techs[t]; ok {
			return t
		}
	}
	return TechUWB
}

func (s *Session) onAdapterClosed(tech TechnologyTag, reason AdapterCloseReason) {
	ts, ok := s.techs[tech]
	if !ok {
		return
	}
	ts.closed = true
	drained := len(ts.peers) == 0
	clientReason := mapAdapterReason(reason, drained)

	// Peers already drained from ts.peers by a preceding OnStopped are
	// reported from the snapshot taken at that point (§6, spec.md S1:
	// TechnologyStopped must name the peers that were being served, not the
	// empty set left behind after a clean stop).
	peers := ts.stoppedPeers
	if peers == nil {
		peers = peerSlice(ts.peers)
	}

	s.metrics.TechnologyStopped(tech, clientReason)
	s.emit(ClientEvent{Kind: EventTechnologyStopped, Tech: tech, Peers: peers, Reason: clientReason})

	if s.State() == StateStarting && s.allTechsFailedToStart() {
		s.handleEvent(EventAllFailedToStart, sessionMsg{})
		return
	}

	if s.State() == StateStopping && s.allTechsClosed() {
		s.handleEvent(EventAllAdaptersClosed, sessionMsg{})
	}
}

func (s *Session) allTechsClosed() bool {
	for _, ts := range s.techs {
		if !ts.closed {
			return false
		}
	}
	return true
}

func peerSlice(set map[PeerId]struct{}) []PeerId {
	out := make([]PeerId, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

func (s *Session) stopAllAdapters() {
	if len(s.techs) == 0 {
		s.terminalReason = ReasonLocalRequest
		s.handleEvent(EventAllAdaptersClosed, sessionMsg{})
		return
	}
	for _, ts := range s.techs {
		ts.stopRequested = true
		if !ts.closed {
			ts.adapter.Stop()
		}
	}
	if s.allTechsClosed() {
		s.terminalReason = ReasonLocalRequest
		s.handleEvent(EventAllAdaptersClosed, sessionMsg{})
	}
}

func (s *Session) forceCloseStragglers() {
	for tech, ts := range s.techs {
		if !ts.closed {
			ts.closed = true
			clientReason := ReasonError
			s.metrics.TechnologyStopped(tech, clientReason)
			s.emit(ClientEvent{Kind: EventTechnologyStopped, Tech: tech, Peers: peerSlice(ts.peers), Reason: clientReason})
		}
	}
}

func (s *Session) forceClose(reason CloseReason) {
	s.forceCloseStragglers()
	if s.State() != StateClosed {
		s.setState(StateClosed)
		s.metrics.SessionStopped(reason)
		s.emit(ClientEvent{Kind: EventSessionStopped, Reason: reason})
	}
}

func (s *Session) doAddPeer(tech TechnologyTag, cfg PerTechnologyConfig, peer PeerId) error {
	ts, ok := s.techs[tech]
	if !ok {
		return ErrUnknownHandle
	}
	if !ts.adapter.SupportsDynamicPeers() {
		return ErrUnsupportedOp
	}
	if err := ts.adapter.AddPeer(cfg, peer); err != nil {
		return err
	}
	ts.peers[peer] = struct{}{}
	return nil
}

func (s *Session) doRemovePeer(tech TechnologyTag, peer PeerId) error {
	ts, ok := s.techs[tech]
	if !ok {
		return ErrUnknownHandle
	}
	if !ts.adapter.SupportsDynamicPeers() {
		return ErrUnsupportedOp
	}
	if err := ts.adapter.RemovePeer(peer); err != nil {
		return err
	}
	delete(ts.peers, peer)
	delete(s.engines, peer)
	return nil
}

// adapterCallback demultiplexes one adapter's events onto the owning
// Session's mailbox (§4.2, §5: adapters "MUST deliver callbacks onto the
// Session's serial context").
type adapterCallback struct {
	session *Session
	tech    TechnologyTag
}

func (c *adapterCallback) OnStarted(peers []PeerId) {
	c.session.send(sessionMsg{kind: msgAdapterStarted, tech: c.tech, peers: peers})
}

func (c *adapterCallback) OnStopped(peers []PeerId) {
	c.session.send(sessionMsg{kind: msgAdapterStopped, tech: c.tech, peers: peers})
}

func (c *adapterCallback) OnData(peer PeerId, raw RawMeasurement) {
	c.session.send(sessionMsg{kind: msgAdapterData, tech: c.tech, peer: peer, raw: raw})
}

func (c *adapterCallback) OnClosed(reason AdapterCloseReason) {
	c.session.send(sessionMsg{kind: msgAdapterClosed, tech: c.tech, reason: reason})
}

// ApplyJitter spreads a nominal interval by up to ±10% so that many
// concurrently-started simulated adapters don't all tick in lockstep.
func ApplyJitter(nominal time.Duration) time.Duration {
	if nominal <= 0 {
		return nominal
	}
	spread := int64(nominal) / 10
	if spread <= 0 {
		return nominal
	}
	delta := rand.Int64N(2*spread+1) - spread
	return nominal + time.Duration(delta)
}
