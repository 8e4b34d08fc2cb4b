// Package metrics registers and exposes the Prometheus metrics that let an
// operator see the lifecycle orchestrator's internal state without polling
// the probe endpoints: current phase, per-tracker connection counts, and how
// long the last shutdown took.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "lifecycle_orchestrator"

// knownPhases mirrors orchestrator.Phase.String()'s output set. Duplicated
// here (rather than imported) because internal/orchestrator itself depends
// on this package to update ConnectionsGauge, ShutdownDurationSeconds, and
// ForceCloseTotal, and metrics must not import orchestrator back.
var knownPhases = []string{"startup", "running", "shutdown_requested", "draining", "final"}

var (
	// PhaseGauge reports the current lifecycle phase with one series per
	// phase name: the current phase's label reads 1, every other known
	// phase label reads 0.
	PhaseGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: defaultNamespace + "_phase",
			Help: "Current lifecycle phase (1 for the active phase's label, 0 otherwise)",
		},
		[]string{"phase"},
	)

	// ConnectionsGauge reports connection counts per tracked server and
	// state (idle, active, health_check).
	ConnectionsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: defaultNamespace + "_connections",
			Help: "Current connections by server and state",
		},
		[]string{"server", "state"},
	)

	// ShutdownDurationSeconds measures wall time from StartShutdown to the
	// Final phase transition.
	ShutdownDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    defaultNamespace + "_shutdown_duration_seconds",
			Help:    "Time from shutdown request to the Final phase",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ForceCloseTotal counts non-idle connections destroyed by ForceClose
	// rather than closed voluntarily — the drain-deadline-exceeded case.
	// Idle connections ForceClose destroys are not counted.
	ForceCloseTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: defaultNamespace + "_force_close_total",
			Help: "Connections force-closed because the drain deadline was exceeded",
		},
	)

	gaugeVecs = []*prometheus.GaugeVec{PhaseGauge, ConnectionsGauge}
	counters  = []prometheus.Collector{ShutdownDurationSeconds, ForceCloseTotal}
)

// Register registers every custom collector with reg. Passing nil uses the
// default Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range gaugeVecs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	for _, c := range counters {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObservePhase sets PhaseGauge so that only phase's label reads 1; every
// other known phase label reads 0. phase is a Phase.String() value.
func ObservePhase(phase string) {
	for _, known := range knownPhases {
		value := 0.0
		if known == phase {
			value = 1.0
		}
		PhaseGauge.WithLabelValues(known).Set(value)
	}
}
