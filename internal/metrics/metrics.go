package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry       *prometheus.Registry
	syncRuns       *prometheus.CounterVec // total syncs
	syncDuration   prometheus.Histogram   // time to sync
	fileOps        *prometheus.CounterVec // managed file operations
	sitesCurrent   prometheus.Gauge       // known site definitions
	invalidSites   prometheus.Counter     // site files that failed to parse or validate
	reloads        *prometheus.CounterVec // proxy reload attempts
	badgerRequests *prometheus.CounterVec // badgerdb requests
}

// Public interface for metrics operations
func (m *Metrics) IncSyncRun(success bool) {
	status := boolToResult(success)
	m.syncRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) SetSyncDuration(duration time.Duration) {
	m.syncDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncFileOp(operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	status := boolToResult(success)
	m.fileOps.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) SetSites(count int) {
	m.sitesCurrent.Set(float64(count))
}

func (m *Metrics) IncInvalidSite() {
	m.invalidSites.Inc()
}

func (m *Metrics) IncReload(success bool) {
	status := boolToResult(success)
	m.reloads.WithLabelValues(status).Inc()
}

func (m *Metrics) IncBadgerRequest(operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	status := boolToResult(success)
	m.badgerRequests.WithLabelValues(operation, status).Inc()
}

// Validation helpers
func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

func isValidOperation(op string) bool {
	switch op {
	case "create", "read", "update", "delete", "skip":
		return true
	}
	return false
}

func New(register bool) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "nginx_vhost_sync"

	m := &Metrics{
		registry: registry,

		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Total number of synchronization runs",
		}, []string{"status"}),

		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of synchronization runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		fileOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_operations_total",
			Help:      "Total managed configuration file operations",
		}, []string{"operation", "status"}),

		sitesCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sites_current",
			Help:      "Current known site definitions",
		}),

		invalidSites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_site_files_total",
			Help:      "Total site definition files skipped as invalid",
		}),

		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_reloads_total",
			Help:      "Total proxy reload attempts",
		}, []string{"status"}),

		badgerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "badgerdb_requests_total",
			Help:      "Total badgerdb requests",
		}, []string{"operation", "status"}),
	}

	if register {
		registry.MustRegister(
			m.syncRuns,
			m.syncDuration,
			m.fileOps,
			m.sitesCurrent,
			m.invalidSites,
			m.reloads,
			m.badgerRequests,
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
