package ranging

import "context"

// AdapterCallback receives events from a running Adapter. Events for one
// adapter are ordered and single-producer; a Session demultiplexes by the
// Adapter instance that invoked the callback. See §4.2.
type AdapterCallback interface {
	OnStarted(peers []PeerId)
	OnStopped(peers []PeerId)
	OnData(peer PeerId, raw RawMeasurement)
	OnClosed(reason AdapterCloseReason)
}

// Adapter is the uniform contract every ranging technology implements
// (§4.2). start/stop are idempotent; add_peer/remove_peer/reconfigure are
// optional and gated by the supports_* predicates.
type Adapter interface {
	// Start asynchronously transitions the adapter to Started. A duplicate
	// Start on an already-running adapter returns ErrAlreadyStarted
	// synchronously and emits nothing.
	Start(ctx context.Context, cfg TechnologyConfig, cb AdapterCallback) error

	// Stop asynchronously transitions the adapter to Stopped then Closed.
	// A Stop on an already-stopped adapter is a no-op.
	Stop()

	SupportsDynamicPeers() bool
	AddPeer(cfg PerTechnologyConfig, peer PeerId) error
	RemovePeer(peer PeerId) error

	SupportsReconfigureInterval() bool
	ReconfigureInterval(ms uint16) error

	// AppForegroundChanged and AppBackgroundTimeout are best-effort duty
	// cycle hints; they must never fail.
	AppForegroundChanged(isForeground bool)
	AppBackgroundTimeout()
}

// AdapterFactory builds an Adapter for one TechnologyConfig. Session
// Registry callers inject a factory so that production code wires a real
// per-technology driver while tests and the demo CLI inject simadapter.
type AdapterFactory func(tech TechnologyTag) Adapter
