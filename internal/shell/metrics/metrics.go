// Package metrics exports retention engine and HTTP API metrics to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/artpar/retainer/internal/core/retention"
	"github.com/artpar/retainer/internal/engine"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "retainer"

// Metrics holds the collectors of one registry. It implements
// engine.Observer.
type Metrics struct {
	loads        *prometheus.CounterVec
	loadDuration prometheus.Histogram
	lastLoad     prometheus.Gauge
	staleReads   prometheus.Counter
	derivations  prometheus.Counter
	deployments  prometheus.Gauge
	orphaned     prometheus.Gauge
	unknownEnv   prometheus.Gauge
	shortPairs   prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ engine.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "loads_total",
				Help:      "Load attempts by result.",
			},
			[]string{"result"},
		),
		loadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "load_duration_seconds",
				Help:      "Duration of load attempts in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		lastLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "last_load_timestamp_seconds",
			Help:      "Unix time of the last successful load.",
		}),
		staleReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "stale_reads_total",
			Help:      "Reads served from outdated data.",
		}),
		derivations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "derivations_total",
			Help:      "Rebuilds of the retained releases mapping.",
		}),
		deployments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "deployments",
			Help:      "Deployments considered by the last derivation.",
		}),
		orphaned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "orphaned_deployments",
			Help:      "Deployments referencing a release no project owns.",
		}),
		unknownEnv: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "unknown_environment_deployments",
			Help:      "Deployments referencing an unknown environment.",
		}),
		shortPairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "short_pairs",
			Help:      "Project/environment pairs retaining fewer versions than requested.",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	collectors := []prometheus.Collector{
		m.loads, m.loadDuration, m.lastLoad, m.staleReads, m.derivations,
		m.deployments, m.orphaned, m.unknownEnv, m.shortPairs,
		m.httpRequests, m.httpDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// =============================================================================
// Engine Observer
// =============================================================================

func (m *Metrics) Loaded(event engine.LoadEvent) {
	m.loadDuration.Observe(event.Duration.Seconds())
	if event.Err != nil {
		m.loads.WithLabelValues("error").Inc()
		return
	}
	m.loads.WithLabelValues("success").Inc()
	m.lastLoad.Set(float64(event.UpdatedAt.UnixNano()) / 1e9)
}

func (m *Metrics) Stale(time.Duration) {
	m.staleReads.Inc()
}

func (m *Metrics) Derived(stats retention.Stats) {
	m.derivations.Inc()
	m.deployments.Set(float64(stats.Deployments))
	m.orphaned.Set(float64(stats.OrphanedDeployments))
	m.unknownEnv.Set(float64(stats.UnknownEnvironmentDeployments))
	m.shortPairs.Set(float64(stats.ShortPairs))
}

// =============================================================================
// HTTP
// =============================================================================

// RecordHTTPRequest records one served request. path should be the route
// pattern, not the raw URL, to keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
