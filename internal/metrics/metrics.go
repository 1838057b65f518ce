// Package metrics exposes Prometheus collectors for the experiment runner.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "moderator"

var (
	sessionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Sessions opened, split by whether they resumed existing state",
		},
		[]string{"resumed"},
	)

	trialsCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_committed_total",
			Help:      "Trial records committed locally",
		},
		[]string{"gt_label", "answer_valid"},
	)

	emergencyExits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_exits_total",
			Help:      "Runs abandoned through the emergency exit",
		},
	)

	syncOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_sync_total",
			Help:      "Remote sync attempts by record kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: synced, failed, disabled
	)

	syncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_sync_duration_seconds",
			Help:      "Duration of remote sync calls",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	catalogRowsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_rows_skipped_total",
			Help:      "Catalog rows dropped or replaced by placeholders",
		},
		[]string{"catalog", "reason"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Participants with an in-memory sequencer",
		},
	)

	markerClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "marker_clients",
			Help:      "Connected marker stream subscribers",
		},
	)

	allMetrics = []prometheus.Collector{
		sessionsOpened,
		trialsCommitted,
		emergencyExits,
		syncOutcomes,
		syncDuration,
		catalogRowsSkipped,
		activeSessions,
		markerClients,
	}
)

// NewRegistry returns a registry holding every collector plus Go runtime metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func ObserveSessionOpened(resumed bool) {
	sessionsOpened.WithLabelValues(boolLabel(resumed)).Inc()
}

func ObserveTrialCommitted(label string, answerValid bool) {
	if label == "" {
		label = "unknown"
	}
	trialsCommitted.WithLabelValues(label, boolLabel(answerValid)).Inc()
}

func ObserveEmergencyExit() { emergencyExits.Inc() }

// ObserveSync records one remote sync attempt.
func ObserveSync(kind, outcome string, seconds float64) {
	syncOutcomes.WithLabelValues(kind, outcome).Inc()
	if outcome != "disabled" {
		syncDuration.WithLabelValues(kind).Observe(seconds)
	}
}

func ObserveCatalogRowSkipped(catalog, reason string) {
	catalogRowsSkipped.WithLabelValues(catalog, reason).Inc()
}

func SetActiveSessions(n int) { activeSessions.Set(float64(n)) }

func SetMarkerClients(n int) { markerClients.Set(float64(n)) }

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
