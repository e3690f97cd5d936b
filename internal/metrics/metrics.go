package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level collectors. Helpers below no-op until Register succeeds.
var (
	regOK atomic.Bool

	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "uptime",
			Name:      "probes_total",
			Help:      "Probes executed, by result (up|down).",
		}, []string{"result"},
	)
	probeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "uptime",
			Name:      "probe_duration_seconds",
			Help:      "Wall-clock probe latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	lockSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "uptime",
			Name:      "lock_skips_total",
			Help:      "Probe firings skipped because the execution lock was not acquired (held|error).",
		}, []string{"reason"},
	)
	scheduledTargets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "uptime",
			Name:      "scheduled_targets",
			Help:      "Targets with an active timer in this scheduler instance.",
		},
	)
	resultsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "uptime",
			Name:      "results_processed_total",
			Help:      "Probe results consumed by the state machine, by outcome.",
		}, []string{"outcome"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "uptime",
			Name:      "transitions_total",
			Help:      "Transition events emitted, by new state.",
		}, []string{"to"},
	)
	alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "uptime",
			Name:      "alerts_total",
			Help:      "Alert dispatch attempts, by outcome (sent|failed|skipped).",
		}, []string{"outcome"},
	)
	registryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "uptime",
			Name:      "registry_requests_total",
			Help:      "Registry API calls after retries, by operation and outcome.",
		}, []string{"op", "outcome"},
	)
)

// Register registers all collectors with r.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{probesTotal, probeDuration, lockSkips, scheduledTargets, resultsProcessed, transitions, alerts, registryRequests}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func ObserveProbe(up bool, latency time.Duration) {
	if !regOK.Load() {
		return
	}
	result := "down"
	if up {
		result = "up"
	}
	probesTotal.WithLabelValues(result).Inc()
	probeDuration.Observe(latency.Seconds())
}

func IncLockSkip(reason string) {
	if regOK.Load() {
		lockSkips.WithLabelValues(reason).Inc()
	}
}

func SetScheduledTargets(n int) {
	if regOK.Load() {
		scheduledTargets.Set(float64(n))
	}
}

func IncResultProcessed(outcome string) {
	if regOK.Load() {
		resultsProcessed.WithLabelValues(outcome).Inc()
	}
}

func IncTransition(to string) {
	if regOK.Load() {
		transitions.WithLabelValues(to).Inc()
	}
}

func IncAlert(outcome string) {
	if regOK.Load() {
		alerts.WithLabelValues(outcome).Inc()
	}
}

func IncRegistryRequest(op, outcome string) {
	if regOK.Load() {
		registryRequests.WithLabelValues(op, outcome).Inc()
	}
}
