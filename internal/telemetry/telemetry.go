// Package telemetry holds the process-wide Prometheus registry and the
// collectors shared by the monitor daemon, the registry API, and the
// runner worker.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector registered by this package.
var Registry = prometheus.NewRegistry()

var (
	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentryfleet",
			Subsystem: "monitor",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one monitor scheduler cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		nil,
	)

	probeOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryfleet",
			Subsystem: "monitor",
			Name:      "probe_outcomes_total",
			Help:      "Total probe outcomes by domain, signal, and status.",
		},
		[]string{"domain", "signal", "status"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryfleet",
			Subsystem: "monitor",
			Name:      "alerts_total",
			Help:      "Total alerts sent, by kind (down, recovered).",
		},
		[]string{"kind"},
	)

	runnerClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryfleet",
			Subsystem: "runner",
			Name:      "claims_total",
			Help:      "Total runs claimed by the runner worker.",
		},
		[]string{"test_kind"},
	)

	runnerCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryfleet",
			Subsystem: "runner",
			Name:      "completions_total",
			Help:      "Total run completions reported by the runner worker, by status.",
		},
		[]string{"status"},
	)

	registryDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryfleet",
			Subsystem: "registry",
			Name:      "dispatches_total",
			Help:      "Total dispatcher escalations triggered on confirmed-down tests.",
		},
		[]string{"test_id"},
	)
)

func init() {
	Registry.MustRegister(
		cycleDuration,
		probeOutcomes,
		alertsTotal,
		runnerClaims,
		runnerCompletions,
		registryDispatches,
	)
}

// Handler exposes the registered collectors for scraping at /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveCycleDuration records one monitor scheduler cycle's wall time.
func ObserveCycleDuration(d time.Duration) {
	cycleDuration.WithLabelValues().Observe(d.Seconds())
}

// RecordProbeOutcome increments the probe-outcome counter for one domain/signal check.
func RecordProbeOutcome(domain, signal, status string) {
	probeOutcomes.WithLabelValues(domain, signal, status).Inc()
}

// RecordAlert increments the alert counter for a down or recovered edge.
func RecordAlert(kind string) {
	alertsTotal.WithLabelValues(kind).Inc()
}

// RecordRunnerClaim increments the claimed-run counter for one test kind.
func RecordRunnerClaim(testKind string) {
	runnerClaims.WithLabelValues(testKind).Inc()
}

// RecordRunnerCompletion increments the completed-run counter for one terminal status.
func RecordRunnerCompletion(status string) {
	runnerCompletions.WithLabelValues(status).Inc()
}

// RecordDispatch increments the dispatcher-escalation counter for one test.
func RecordDispatch(testID string) {
	registryDispatches.WithLabelValues(testID).Inc()
}
