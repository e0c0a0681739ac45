package ranging

// FusionEngine owns one Filter per currently-active technology and one
// Fuser for a single peer (§4.6, C6). It is driven synchronously from the
// owning Session's serial execution context (§5) — unlike the ticker-driven
// merge loop in the grounding reference (a Sensor-Logger style
// FusionController draining N sensor channels at a fixed cadence), this
// engine fuses per-arrival so that per-stream Measurement timestamps stay
// strictly monotonic (invariant 6): there is no periodic snapshot to smear
// arrival order.
type FusionEngine struct {
	minWindow int
	maxWindow int
	fuser     Fuser
	filters   map[TechnologyTag]*Filter
	active    ActiveSet
	lastTs    map[TechnologyTag]uint64
}

// NewFusionEngine creates an engine for one peer. minWindow/maxWindow bound
// each technology's Filter (Configuration min/max_fusion_window, §6).
func NewFusionEngine(minWindow, maxWindow int, fuser Fuser) *FusionEngine {
	return &FusionEngine{
		minWindow: minWindow,
		maxWindow: maxWindow,
		fuser:     fuser,
		filters:   make(map[TechnologyTag]*Filter, 4),
		active:    make(ActiveSet, 4),
		lastTs:    make(map[TechnologyTag]uint64, 4),
	}
}

// SetActive marks tech active or inactive for this peer. Creating a filter
// for a tech that already has one replaces and closes the previous one
// (§4.5); the replacement happens atomically with respect to Feed because
// both run on the same serial context.
func (e *FusionEngine) SetActive(tech TechnologyTag, active bool) {
	if active {
		e.active[tech] = struct{}{}
		e.filters[tech] = NewFilter(e.minWindow, e.maxWindow)
		return
	}
	delete(e.active, tech)
	delete(e.filters, tech)
	delete(e.lastTs, tech)
}

// Feed runs the §4.6 protocol for one incoming RawMeasurement: filter, then
// fuse against the peer's current active set. It returns the fused
// Measurement when the fuser did not drop the sample.
//
// Feed rejects samples whose timestamp does not strictly increase over the
// last one seen for (peer, tech) — the caller owns per-peer dispatch, so
// this engine only needs to track per-tech monotonicity (invariant 6).
func (e *FusionEngine) Feed(raw RawMeasurement) (Measurement, bool) {
	if last, ok := e.lastTs[raw.Tech]; ok && raw.TimestampMs <= last {
		return Measurement{}, false
	}

	f, ok := e.filters[raw.Tech]
	if !ok {
		f = NewFilter(e.minWindow, e.maxWindow)
		e.filters[raw.Tech] = f
		e.active[raw.Tech] = struct{}{}
	}
	f.Add(raw)
	filtered, ok := f.Compute(raw)
	if !ok {
		return Measurement{}, false
	}
	e.lastTs[raw.Tech] = raw.TimestampMs

	return e.fuser.Fuse(filtered, e.active)
}
