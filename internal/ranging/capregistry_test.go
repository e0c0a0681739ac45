package ranging_test

import (
	"sync"
	"testing"

	"github.com/ranging-core/rangingd/internal/ranging"
)

func TestNewCapabilityRegistryStartsNotSupported(t *testing.T) {
	t.Parallel()
	reg := ranging.NewCapabilityRegistry()

	for _, tech := range []ranging.TechnologyTag{
		ranging.TechUWB, ranging.TechCS, ranging.TechRTT, ranging.TechRSSI,
	} {
		avail, caps := reg.Get(tech)
		if avail != ranging.AvailabilityNotSupported {
			t.Errorf("tech %s: got %s, want NotSupported", tech, avail)
		}
		if caps != nil {
			t.Errorf("tech %s: expected nil caps before first Enabled transition", tech)
		}
	}
}

func TestSetAvailabilityPublishesCapsOnlyOnEnabled(t *testing.T) {
	t.Parallel()
	reg := ranging.NewCapabilityRegistry()

	caps := &ranging.UwbCapabilities{Channels: []uint8{9}}
	reg.SetAvailability(ranging.TechUWB, ranging.AvailabilityDisabled, caps)

	avail, got := reg.Get(ranging.TechUWB)
	if avail != ranging.AvailabilityDisabled {
		t.Fatalf("got %s, want Disabled", avail)
	}
	if got != nil {
		t.Fatalf("Disabled transition must not publish caps, got %+v", got)
	}

	reg.SetAvailability(ranging.TechUWB, ranging.AvailabilityEnabled, caps)
	avail, got = reg.Get(ranging.TechUWB)
	if avail != ranging.AvailabilityEnabled || got != caps {
		t.Fatalf("Enabled transition did not publish caps: avail=%s caps=%+v", avail, got)
	}
}

func TestSetAvailabilityKeepsPreviousCapsOnNonEnabledTransition(t *testing.T) {
	t.Parallel()
	reg := ranging.NewCapabilityRegistry()
	caps := &ranging.UwbCapabilities{Channels: []uint8{5}}

	reg.SetAvailability(ranging.TechUWB, ranging.AvailabilityEnabled, caps)
	reg.SetAvailability(ranging.TechUWB, ranging.AvailabilitySystemError, nil)

	avail, got := reg.Get(ranging.TechUWB)
	if avail != ranging.AvailabilitySystemError {
		t.Fatalf("got %s, want SystemError", avail)
	}
	if got != caps {
		t.Fatalf("previously published caps must survive a non-Enabled transition, got %+v", got)
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	t.Parallel()
	reg := ranging.NewCapabilityRegistry()

	var mu sync.Mutex
	var seen []ranging.Availability

	unsub := reg.Subscribe(func(tech ranging.TechnologyTag, avail ranging.Availability, _ *ranging.UwbCapabilities) {
		if tech != ranging.TechCS {
			return
		}
		mu.Lock()
		seen = append(seen, avail)
		mu.Unlock()
	})
	defer unsub()

	reg.SetAvailability(ranging.TechCS, ranging.AvailabilityEnabled, nil)
	reg.SetAvailability(ranging.TechCS, ranging.AvailabilityDisabled, nil)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != ranging.AvailabilityEnabled || seen[1] != ranging.AvailabilityDisabled {
		t.Fatalf("got %v, want [Enabled Disabled]", seen)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	reg := ranging.NewCapabilityRegistry()

	count := 0
	unsub := reg.Subscribe(func(ranging.TechnologyTag, ranging.Availability, *ranging.UwbCapabilities) {
		count++
	})

	reg.SetAvailability(ranging.TechRTT, ranging.AvailabilityEnabled, nil)
	unsub()
	reg.SetAvailability(ranging.TechRTT, ranging.AvailabilityDisabled, nil)

	if count != 1 {
		t.Fatalf("got %d notifications, want 1 (after unsubscribe)", count)
	}
}

func TestUnsubscribeFromWithinObserverIsSafe(t *testing.T) {
	t.Parallel()
	reg := ranging.NewCapabilityRegistry()

	var unsub func()
	called := 0
	unsub = reg.Subscribe(func(ranging.TechnologyTag, ranging.Availability, *ranging.UwbCapabilities) {
		called++
		unsub()
	})

	reg.SetAvailability(ranging.TechRSSI, ranging.AvailabilityEnabled, nil)
	reg.SetAvailability(ranging.TechRSSI, ranging.AvailabilityDisabled, nil)

	if called != 1 {
		t.Fatalf("got %d calls, want 1 (self-unsubscribe must drop future notifications)", called)
	}
}

func TestSetAvailabilitySameStateNoCapsChangeDoesNotNotify(t *testing.T) {
	t.Parallel()
	reg := ranging.NewCapabilityRegistry()

	count := 0
	unsub := reg.Subscribe(func(ranging.TechnologyTag, ranging.Availability, *ranging.UwbCapabilities) {
		count++
	})
	defer unsub()

	reg.SetAvailability(ranging.TechUWB, ranging.AvailabilityDisabled, nil)
	reg.SetAvailability(ranging.TechUWB, ranging.AvailabilityDisabled, nil)

	if count != 1 {
		t.Fatalf("got %d notifications for a repeated identical Disabled transition, want 1", count)
	}
}
