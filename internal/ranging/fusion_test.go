package ranging_test

import (
	"testing"

	"github.com/ranging-core/rangingd/internal/ranging"
)

func TestFusionEngineFeedRejectsNonMonotonicTimestamp(t *testing.T) {
	t.Parallel()
	e := ranging.NewFusionEngine(3, 5, ranging.PassthroughFuser{})
	e.SetActive(ranging.TechUWB, true)

	if _, ok := e.Feed(ranging.RawMeasurement{Tech: ranging.TechUWB, DistanceM: 1.0, TimestampMs: 10}); !ok {
		t.Fatal("first sample was rejected")
	}
	if _, ok := e.Feed(ranging.RawMeasurement{Tech: ranging.TechUWB, DistanceM: 1.0, TimestampMs: 10}); ok {
		t.Fatal("equal timestamp was accepted, want rejected (invariant 6)")
	}
	if _, ok := e.Feed(ranging.RawMeasurement{Tech: ranging.TechUWB, DistanceM: 1.0, TimestampMs: 5}); ok {
		t.Fatal("earlier timestamp was accepted, want rejected (invariant 6)")
	}
	if _, ok := e.Feed(ranging.RawMeasurement{Tech: ranging.TechUWB, DistanceM: 1.0, TimestampMs: 11}); !ok {
		t.Fatal("strictly increasing timestamp was rejected")
	}
}

func TestFusionEngineTracksMonotonicityPerTechnology(t *testing.T) {
	t.Parallel()
	e := ranging.NewFusionEngine(3, 5, ranging.PassthroughFuser{})
	e.SetActive(ranging.TechUWB, true)
	e.SetActive(ranging.TechCS, true)

	if _, ok := e.Feed(ranging.RawMeasurement{Tech: ranging.TechUWB, DistanceM: 1.0, TimestampMs: 100}); !ok {
		t.Fatal("UWB sample at ts=100 rejected")
	}
	// A CS sample at an earlier absolute timestamp must still be accepted:
	// monotonicity is tracked per technology, not globally.
	if _, ok := e.Feed(ranging.RawMeasurement{Tech: ranging.TechCS, DistanceM: 1.0, TimestampMs: 1}); !ok {
		t.Fatal("CS sample at ts=1 rejected despite independent per-tech tracking")
	}
}

func TestFusionEngineSetActiveReplacesFilterAndClearsHistory(t *testing.T) {
	t.Parallel()
	e := ranging.NewFusionEngine(3, 5, ranging.PassthroughFuser{})
	e.SetActive(ranging.TechUWB, true)

	if _, ok := e.Feed(ranging.RawMeasurement{Tech: ranging.TechUWB, DistanceM: 1.0, TimestampMs: 50}); !ok {
		t.Fatal("initial sample rejected")
	}

	// Re-activating replaces the filter and clears the last-seen timestamp,
	// so an earlier absolute timestamp must be accepted again.
	e.SetActive(ranging.TechUWB, true)
	if _, ok := e.Feed(ranging.RawMeasurement{Tech: ranging.TechUWB, DistanceM: 1.0, TimestampMs: 1}); !ok {
		t.Fatal("sample after SetActive reset was rejected")
	}
}

func TestFusionEngineFuserCanDropWithoutAffectingMonotonicityTracking(t *testing.T) {
	t.Parallel()
	e := ranging.NewFusionEngine(3, 5, ranging.PreferentialFuser{Pref: ranging.TechUWB})
	e.SetActive(ranging.TechUWB, true)
	e.SetActive(ranging.TechCS, true)

	if _, ok := e.Feed(ranging.RawMeasurement{Tech: ranging.TechCS, DistanceM: 1.0, TimestampMs: 10}); ok {
		t.Fatal("CS sample should have been dropped by the preferential fuser while UWB is active")
	}
	// Replaying the same CS timestamp must still be rejected: the filter
	// stage ran (and updated lastTs) even though the fuser dropped the
	// output.
	if _, ok := e.Feed(ranging.RawMeasurement{Tech: ranging.TechCS, DistanceM: 1.0, TimestampMs: 10}); ok {
		t.Fatal("replayed CS timestamp was accepted, want rejected")
	}
}

func TestFusionEngineFeedAutoActivatesUnseenTechnology(t *testing.T) {
	t.Parallel()
	e := ranging.NewFusionEngine(3, 5, ranging.PassthroughFuser{})

	m, ok := e.Feed(ranging.RawMeasurement{Tech: ranging.TechRSSI, DistanceM: 3.0, TimestampMs: 1})
	if !ok {
		t.Fatal("first sample for a never-activated technology was rejected")
	}
	if m.Tech != ranging.TechRSSI {
		t.Fatalf("Tech = %v, want TechRSSI", m.Tech)
	}
}
