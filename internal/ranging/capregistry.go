package ranging

import "sync"

// CapabilityObserver is notified on every availability transition for a
// technology. Delivery is in-order and at-most-once per transition (§4.1).
// Observers run synchronously on the goroutine calling SetAvailability,
// after the registry lock is released: a slow observer delays that call and
// the observers after it, but never blocks other registry methods.
type CapabilityObserver func(tech TechnologyTag, avail Availability, caps *UwbCapabilities)

// capEntry is the Capability Registry's per-technology state.
type capEntry struct {
	avail     Availability
	caps      *UwbCapabilities // published once on first Enabled transition
	published bool             // caps has been set by a transition to Enabled
}

// observerEntry pairs an observer with the subscription id returned to the
// caller, since func values are not comparable in Go and cannot otherwise be
// located again for removal.
type observerEntry struct {
	id  uint64
	obs CapabilityObserver
}

// CapabilityRegistry is the process-wide store of per-technology local
// capabilities and availability state (C2, §4.1). Observer delivery uses a
// copy-on-write slice under a mutex:
// readers/notifiers never hold the lock while invoking a callback.
type CapabilityRegistry struct {
	mu        sync.RWMutex
	entries   map[TechnologyTag]capEntry
	observers []observerEntry
	nextID    uint64
}

// NewCapabilityRegistry returns a registry with every technology
// NotSupported until set by SetAvailability.
func NewCapabilityRegistry() *CapabilityRegistry {
	r := &CapabilityRegistry{
		entries: make(map[TechnologyTag]capEntry, 4),
	}
	for _, t := range []TechnologyTag{TechUWB, TechCS, TechRTT, TechRSSI} {
		r.entries[t] = capEntry{avail: AvailabilityNotSupported}
	}
	return r
}

// Get returns the current availability and, when Enabled, the last
// published capabilities for tech.
func (r *CapabilityRegistry) Get(tech TechnologyTag) (Availability, *UwbCapabilities) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.entries[tech]
	return e.avail, e.caps
}

// Subscribe registers an observer and returns an unsubscribe function.
// Unsubscribing is safe to call from within the observer itself or
// concurrently with a notification in flight.
func (r *CapabilityRegistry) Subscribe(obs CapabilityObserver) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	next := make([]observerEntry, len(r.observers)+1)
	copy(next, r.observers)
	next[len(r.observers)] = observerEntry{id: id, obs: obs}
	r.observers = next
	r.mu.Unlock()

	return func() { r.unsubscribe(id) }
}

func (r *CapabilityRegistry) unsubscribe(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i := range r.observers {
		if r.observers[i].id == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	next := make([]observerEntry, 0, len(r.observers)-1)
	next = append(next, r.observers[:idx]...)
	next = append(next, r.observers[idx+1:]...)
	r.observers = next
}

// SetAvailability updates tech's availability. newCaps is published only on
// a transition to Enabled: a first-time NotSupported/Disabled/SystemError/
// UserRestricted -> Enabled transition stores newCaps unconditionally, and a
// subsequent Enabled -> Enabled transition overwrites it; any other
// transition leaves the previously published capabilities untouched
// (§4.1 invariant).
func (r *CapabilityRegistry) SetAvailability(tech TechnologyTag, avail Availability, newCaps *UwbCapabilities) {
	r.mu.Lock()
	prev := r.entries[tech]
	next := capEntry{avail: avail, caps: prev.caps, published: prev.published}
	if avail == AvailabilityEnabled && (!prev.published || prev.avail == AvailabilityEnabled) {
		next.caps = newCaps
		next.published = true
	}
	r.entries[tech] = next
	observers := r.observers
	r.mu.Unlock()

	if prev.avail == avail && !(avail == AvailabilityEnabled && newCaps != prev.caps) {
		return
	}
	for _, oe := range observers {
		oe.obs(tech, avail, next.caps)
	}
}
