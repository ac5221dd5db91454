package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "watch",
			Name:      "checks_total",
			Help:      "Number of health checks by result (up, down, unknown).",
		}, []string{"service", "result"},
	)
	restartAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "watch",
			Name:      "restart_attempts_total",
			Help:      "Number of restart attempts issued to the host supervisor.",
		}, []string{"service"},
	)
	restartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "watch",
			Name:      "restart_failures_total",
			Help:      "Number of restarts after which the service stayed down.",
		}, []string{"service"},
	)
	consecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "watch",
			Name:      "consecutive_failures",
			Help:      "Consecutive down observations since the last confirmed up.",
		}, []string{"service"},
	)
	serviceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "watch",
			Name:      "service_up",
			Help:      "Whether the monitored service was up at the last check (1 = up).",
		}, []string{"service"},
	)
	serviceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "watch",
			Name:      "service_state",
			Help:      "Current watcher state per service (1 = active state, 0 = inactive).",
		}, []string{"service", "state"},
	)
	memoryPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "watch",
			Name:      "memory_percent",
			Help:      "Resident memory of the tracked PID as a percentage of total.",
		}, []string{"service"},
	)

	backupRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "backup",
			Name:      "runs_total",
			Help:      "Number of backup cycles by result (ok, missing_source, error).",
		}, []string{"job", "result"},
	)
	backupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "backup",
			Name:      "duration_seconds",
			Help:      "Observed wall time of successful snapshot runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"},
	)
	backupSizeBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "backup",
			Name:      "last_size_bytes",
			Help:      "Size of the most recent snapshot file.",
		}, []string{"job"},
	)
	backupLastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "backup",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the most recent successful snapshot.",
		}, []string{"job"},
	)
	backupPruned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "backup",
			Name:      "pruned_total",
			Help:      "Number of snapshot files removed by retention pruning.",
		}, []string{"job"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		healthChecks, restartAttempts, restartFailures, consecutiveFailures,
		serviceUp, serviceState, memoryPercent,
		backupRuns, backupDuration, backupSizeBytes, backupLastSuccess, backupPruned,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// RegisterDefault registers with the default Prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler returns an http.Handler that serves Prometheus metrics for the
// DefaultGatherer. The caller wires the route and server.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncCheck(service, result string) {
	if regOK.Load() {
		healthChecks.WithLabelValues(service, result).Inc()
	}
}

func IncRestartAttempt(service string) {
	if regOK.Load() {
		restartAttempts.WithLabelValues(service).Inc()
	}
}

func IncRestartFailure(service string) {
	if regOK.Load() {
		restartFailures.WithLabelValues(service).Inc()
	}
}

func SetConsecutiveFailures(service string, n int) {
	if regOK.Load() {
		consecutiveFailures.WithLabelValues(service).Set(float64(n))
	}
}

func SetServiceUp(service string, up bool) {
	if regOK.Load() {
		var v float64
		if up {
			v = 1
		}
		serviceUp.WithLabelValues(service).Set(v)
	}
}

func SetServiceState(service, state string, active bool) {
	if regOK.Load() {
		var v float64
		if active {
			v = 1
		}
		serviceState.WithLabelValues(service, state).Set(v)
	}
}

func SetMemoryPercent(service string, pct float64) {
	if regOK.Load() {
		memoryPercent.WithLabelValues(service).Set(pct)
	}
}

func IncBackupRun(job, result string) {
	if regOK.Load() {
		backupRuns.WithLabelValues(job, result).Inc()
	}
}

func ObserveBackupDuration(job string, seconds float64) {
	if regOK.Load() {
		backupDuration.WithLabelValues(job).Observe(seconds)
	}
}

func SetBackupSize(job string, bytes int64) {
	if regOK.Load() {
		backupSizeBytes.WithLabelValues(job).Set(float64(bytes))
	}
}

func SetBackupLastSuccess(job string, unix int64) {
	if regOK.Load() {
		backupLastSuccess.WithLabelValues(job).Set(float64(unix))
	}
}

func AddBackupPruned(job string, n int) {
	if regOK.Load() {
		backupPruned.WithLabelValues(job).Add(float64(n))
	}
}
