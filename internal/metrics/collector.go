// Package rangingmetrics exposes Prometheus metrics for the ranging
// daemon's session lifecycle, technology lifecycle, measurement throughput
// and OOB negotiation outcomes.
package rangingmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ranging-core/rangingd/internal/ranging"
)

const (
	namespace = "rangingd"
	subsystem = "session"
)

const (
	labelTech   = "technology"
	labelReason = "reason"
)

// Collector holds every ranging Prometheus metric and implements
// ranging.MetricsSink directly.
type Collector struct {
	// SessionsActive tracks the number of sessions currently not Closed.
	SessionsActive prometheus.Gauge

	// SessionsStoppedTotal counts session terminations, labeled by the
	// client-visible CloseReason.
	SessionsStoppedTotal *prometheus.CounterVec

	// TechnologiesActive tracks the number of currently-started adapters,
	// labeled by technology.
	TechnologiesActive *prometheus.GaugeVec

	// TechnologiesStoppedTotal counts adapter terminations, labeled by
	// technology and CloseReason.
	TechnologiesStoppedTotal *prometheus.CounterVec

	// MeasurementsEmittedTotal counts fused Measurement events delivered to
	// clients, labeled by technology.
	MeasurementsEmittedTotal *prometheus.CounterVec

	// OobSelectionFailuresTotal counts OOB Config Selector failures, labeled
	// by ConfigSelectionReason.
	OobSelectionFailuresTotal *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.SessionsActive,
		c.SessionsStoppedTotal,
		c.TechnologiesActive,
		c.TechnologiesStoppedTotal,
		c.MeasurementsEmittedTotal,
		c.OobSelectionFailuresTotal,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active",
			Help:      "Number of ranging sessions that have not yet reached Closed.",
		}),

		SessionsStoppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stopped_total",
			Help:      "Total ranging sessions that reached Closed, labeled by reason.",
		}, []string{labelReason}),

		TechnologiesActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "technology",
			Name:      "active",
			Help:      "Number of currently-started technology adapters, labeled by technology.",
		}, []string{labelTech}),

		TechnologiesStoppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "technology",
			Name:      "stopped_total",
			Help:      "Total technology adapter terminations, labeled by technology and reason.",
		}, []string{labelTech, labelReason}),

		MeasurementsEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "measurement",
			Name:      "emitted_total",
			Help:      "Total fused measurements delivered to clients, labeled by technology.",
		}, []string{labelTech}),

		OobSelectionFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oob",
			Name:      "selection_failures_total",
			Help:      "Total OOB Config Selector failures, labeled by reason.",
		}, []string{labelReason}),
	}
}

// SessionStarted implements ranging.MetricsSink.
func (c *Collector) SessionStarted() {
	c.SessionsActive.Inc()
}

// SessionStopped implements ranging.MetricsSink.
func (c *Collector) SessionStopped(reason ranging.CloseReason) {
	c.SessionsActive.Dec()
	c.SessionsStoppedTotal.WithLabelValues(reason.String()).Inc()
}

// TechnologyStarted implements ranging.MetricsSink.
func (c *Collector) TechnologyStarted(tech ranging.TechnologyTag) {
	c.TechnologiesActive.WithLabelValues(tech.String()).Inc()
}

// TechnologyStopped implements ranging.MetricsSink.
func (c *Collector) TechnologyStopped(tech ranging.TechnologyTag, reason ranging.CloseReason) {
	c.TechnologiesActive.WithLabelValues(tech.String()).Dec()
	c.TechnologiesStoppedTotal.WithLabelValues(tech.String(), reason.String()).Inc()
}

// MeasurementEmitted implements ranging.MetricsSink.
func (c *Collector) MeasurementEmitted(tech ranging.TechnologyTag) {
	c.MeasurementsEmittedTotal.WithLabelValues(tech.String()).Inc()
}

// OobSelectionFailed implements ranging.MetricsSink.
func (c *Collector) OobSelectionFailed(reason ranging.ConfigSelectionReason) {
	c.OobSelectionFailuresTotal.WithLabelValues(reason.String()).Inc()
}
