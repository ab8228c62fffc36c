package operator

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// deploymentsTotal counts finished deployment attempts by outcome.
	deploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "platform",
			Subsystem: "operator",
			Name:      "deployments_total",
			Help:      "Total number of platform deployment attempts by result (succeeded, failed, skipped)",
		},
		[]string{"name", "result"},
	)

	// deployDurationHistogram tracks how long deployment attempts take.
	deployDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "platform",
			Subsystem: "operator",
			Name:      "deploy_duration_seconds",
			Help:      "Duration of platform deployment attempts in seconds",
			Buckets:   []float64{30, 60, 120, 300, 600, 900, 1800},
		},
		[]string{"name"},
	)

	// lockWaitHistogram tracks how long reconcile passes wait for the
	// distributed deploy lock.
	lockWaitHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "platform",
			Subsystem: "operator",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the distributed deploy lock in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	// configWatchPassesTotal counts periodic config reconciliation passes
	// by outcome.
	configWatchPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "platform",
			Subsystem: "operator",
			Name:      "config_watch_passes_total",
			Help:      "Total number of periodic config reconciliation passes by result (succeeded, failed, skipped)",
		},
		[]string{"name", "result"},
	)
)

const (
	resultSucceeded = "succeeded"
	resultFailed    = "failed"
	resultSkipped   = "skipped"
)

func init() {
	metrics.Registry.MustRegister(
		deploymentsTotal,
		deployDurationHistogram,
		lockWaitHistogram,
		configWatchPassesTotal,
	)
}
