package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-timetable/internal/engine"
)

const metricsNamespace = "timetable"

// MetricsService owns the Prometheus registry of the API process.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
	dbQueryDuration *prometheus.HistogramVec

	generationDuration *prometheus.HistogramVec
	assignmentStatus   *prometheus.CounterVec
	satisfaction       prometheus.Gauge
	searchNodes        prometheus.Histogram
	searchBacktracks   prometheus.Histogram
	softViolations     prometheus.Gauge
	jobsInFlight       prometheus.Gauge
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	m := &MetricsService{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests by route template.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
		cacheLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "operation_seconds",
			Help:      "Latency of cache reads and writes.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op"}),
		dbQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Duration of database work by label.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of generation runs by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"outcome"}),
		assignmentStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "assignment_runs_total",
			Help:      "Teacher assignment runs by solver status.",
		}, []string{"status"}),
		satisfaction: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "assignment_satisfaction",
			Help:      "Total preference score of the last solved assignment.",
		}),
		searchNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "placement",
			Name:      "nodes",
			Help:      "Search nodes expanded per placement run.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 10),
		}),
		searchBacktracks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "placement",
			Name:      "backtracks",
			Help:      "Backtracks per placement run.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		softViolations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "placement",
			Name:      "soft_violations",
			Help:      "Soft rule violations of the last placement.",
		}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Asynchronous generations currently running.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestDuration, m.cacheLookups, m.cacheLatency, m.dbQueryDuration,
		m.generationDuration, m.assignmentStatus, m.satisfaction,
		m.searchNodes, m.searchBacktracks, m.softViolations, m.jobsInFlight,
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return m
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// WatchQueue publishes the depth of a job queue.
func (m *MetricsService) WatchQueue(name string, depth func() int) {
	if m == nil || depth == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "jobs",
		Name:        "pending",
		Help:        "Jobs buffered or running.",
		ConstLabels: prometheus.Labels{"queue": name},
	}, func() float64 { return float64(depth()) }))
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
	m.cacheLatency.WithLabelValues("get").Observe(duration.Seconds())
}

// ObserveCacheWrite tracks the duration of a cache write.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.WithLabelValues("set").Observe(duration.Seconds())
}

// ObserveDBQuery records database timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveGeneration records a finished run of both phases.
func (m *MetricsService) ObserveGeneration(result *engine.Result) {
	if m == nil || result == nil {
		return
	}
	m.generationDuration.WithLabelValues(string(result.Outcome)).Observe(result.Elapsed.Seconds())
	if a := result.Assignment; a != nil {
		m.assignmentStatus.WithLabelValues(string(a.Status)).Inc()
		if a.Status.Solved() {
			m.satisfaction.Set(float64(a.TotalSatisfaction))
		}
	}
	if result.Search.Nodes > 0 {
		m.searchNodes.Observe(float64(result.Search.Nodes))
		m.searchBacktracks.Observe(float64(result.Search.Backtracks))
	}
	if result.Outcome.Succeeded() {
		m.softViolations.Set(float64(result.Search.SoftViolations))
	}
}

// JobStarted marks an asynchronous generation as running.
func (m *MetricsService) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

func (m *MetricsService) JobFinished() {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
}
