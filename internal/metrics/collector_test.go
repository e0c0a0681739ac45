package rangingmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	rangingmetrics "github.com/ranging-core/rangingd/internal/metrics"
	"github.com/ranging-core/rangingd/internal/ranging"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := rangingmetrics.NewCollector(reg)

	if c.SessionsActive == nil {
		t.Error("SessionsActive is nil")
	}
	if c.SessionsStoppedTotal == nil {
		t.Error("SessionsStoppedTotal is nil")
	}
	if c.TechnologiesActive == nil {
		t.Error("TechnologiesActive is nil")
	}
	if c.TechnologiesStoppedTotal == nil {
		t.Error("TechnologiesStoppedTotal is nil")
	}
	if c.MeasurementsEmittedTotal == nil {
		t.Error("MeasurementsEmittedTotal is nil")
	}
	if c.OobSelectionFailuresTotal == nil {
		t.Error("OobSelectionFailuresTotal is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := rangingmetrics.NewCollector(reg)

	c.SessionStarted()
	c.SessionStarted()

	if v := gaugeValue(t, c.SessionsActive); v != 2 {
		t.Errorf("SessionsActive = %v, want 2", v)
	}

	c.SessionStopped(ranging.ReasonNoPeersFound)

	if v := gaugeValue(t, c.SessionsActive); v != 1 {
		t.Errorf("SessionsActive after stop = %v, want 1", v)
	}

	if v := counterVecValue(t, c.SessionsStoppedTotal, ranging.ReasonNoPeersFound.String()); v != 1 {
		t.Errorf("SessionsStoppedTotal(NoPeersFound) = %v, want 1", v)
	}
}

func TestTechnologyLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := rangingmetrics.NewCollector(reg)

	c.TechnologyStarted(ranging.TechUWB)
	c.TechnologyStarted(ranging.TechUWB)

	if v := gaugeVecValue(t, c.TechnologiesActive, ranging.TechUWB.String()); v != 2 {
		t.Errorf("TechnologiesActive(uwb) = %v, want 2", v)
	}

	c.TechnologyStopped(ranging.TechUWB, ranging.ReasonError)

	if v := gaugeVecValue(t, c.TechnologiesActive, ranging.TechUWB.String()); v != 1 {
		t.Errorf("TechnologiesActive(uwb) after stop = %v, want 1", v)
	}
	if v := counterVecValue(t, c.TechnologiesStoppedTotal, ranging.TechUWB.String(), ranging.ReasonError.String()); v != 1 {
		t.Errorf("TechnologiesStoppedTotal(uwb, Error) = %v, want 1", v)
	}
}

func TestMeasurementsEmitted(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := rangingmetrics.NewCollector(reg)

	c.MeasurementEmitted(ranging.TechCS)
	c.MeasurementEmitted(ranging.TechCS)
	c.MeasurementEmitted(ranging.TechCS)

	if v := counterVecValue(t, c.MeasurementsEmittedTotal, ranging.TechCS.String()); v != 3 {
		t.Errorf("MeasurementsEmittedTotal(cs) = %v, want 3", v)
	}
}

func TestOobSelectionFailed(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := rangingmetrics.NewCollector(reg)

	c.OobSelectionFailed(ranging.ReasonNoCommonConfigID)
	c.OobSelectionFailed(ranging.ReasonNoCommonConfigID)

	if v := counterVecValue(t, c.OobSelectionFailuresTotal, ranging.ReasonNoCommonConfigID.String()); v != 2 {
		t.Errorf("OobSelectionFailuresTotal(NoCommonConfigID) = %v, want 2", v)
	}
}

// gaugeValue reads the current value of a plain Gauge.
func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

// gaugeVecValue reads the current value of a GaugeVec with the given labels.
func gaugeVecValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	g, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

// counterVecValue reads the current value of a CounterVec with the given labels.
func counterVecValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
