package ranging

// ActiveSet is the set of technologies currently active for one peer,
// passed to a Fuser alongside each filtered Measurement (§4.6).
type ActiveSet map[TechnologyTag]struct{}

func (a ActiveSet) has(t TechnologyTag) bool {
	_, ok := a[t]
	return ok
}

// Fuser is a pure function mapping (Measurement, active technologies) to an
// optional Measurement (§4.6, glossary). Implementations must not retain
// mutable references to the ActiveSet passed in.
type Fuser interface {
	Fuse(m Measurement, active ActiveSet) (Measurement, bool)
}

// PassthroughFuser always returns its input unchanged (invariant 7:
// fuse(x, A) = x regardless of A).
type PassthroughFuser struct{}

func (PassthroughFuser) Fuse(m Measurement, _ ActiveSet) (Measurement, bool) {
	return m, true
}

// PreferentialFuser emits samples from Pref while Pref is active, and falls
// back to any technology once Pref becomes inactive (invariant 8):
//
//	fuse(x, A) = x  iff  x.tech = pref ∨ pref ∉ A
//	           = None otherwise
type PreferentialFuser struct {
	Pref TechnologyTag
}

func (f PreferentialFuser) Fuse(m Measurement, active ActiveSet) (Measurement, bool) {
	if !active.has(f.Pref) {
		return m, true
	}
	if m.Tech == f.Pref {
		return m, true
	}
	return Measurement{}, false
}

// NewFuser builds the fuser selected by SessionConfig.SensorFusionEnabled
// and, when enabled, the preferred technology (§4.6: "When
// sensor_fusion_enabled=false, Passthrough is used").
func NewFuser(sensorFusionEnabled bool, pref TechnologyTag) Fuser {
	if !sensorFusionEnabled {
		return PassthroughFuser{}
	}
	return PreferentialFuser{Pref: pref}
}
