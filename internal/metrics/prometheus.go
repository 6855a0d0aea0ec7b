package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics backed by a dedicated Prometheus registry
type PrometheusMetrics struct {
	writesTotal      *prometheus.CounterVec
	writeErrors      *prometheus.CounterVec
	writeDuration    prometheus.Histogram
	readsTotal       *prometheus.CounterVec
	readDuration     prometheus.Histogram
	enqueuesTotal    *prometheus.CounterVec
	jobsTotal        *prometheus.CounterVec
	jobDuration      prometheus.Histogram
	queueDepth       prometheus.Gauge
	stuckResets      prometheus.Counter
	activeWorkers    prometheus.Gauge
	embeddingsTotal  *prometheus.CounterVec
	embedDuration    prometheus.Histogram
	cacheOps         *prometheus.CounterVec
	searchesTotal    prometheus.Counter
	searchDuration   prometheus.Histogram
	searchResultSize prometheus.Histogram

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &PrometheusMetrics{
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entity",
				Name:      "writes_total",
				Help:      "Total entity writes by operation and type",
			},
			[]string{"operation", "entity_type"},
		),
		writeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entity",
				Name:      "write_errors_total",
				Help:      "Total entity write errors by operation and error type",
			},
			[]string{"operation", "error_type"},
		),
		writeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "entity",
				Name:      "write_duration_seconds",
				Help:      "Entity write latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
		readsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entity",
				Name:      "reads_total",
				Help:      "Total entity reads by operation",
			},
			[]string{"operation"},
		),
		readDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "entity",
				Name:      "read_duration_seconds",
				Help:      "Entity read latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
		enqueuesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "enqueues_total",
				Help:      "Total jobs enqueued by type",
			},
			[]string{"job_type"},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "jobs_total",
				Help:      "Total jobs finished by status",
			},
			[]string{"status"},
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "job_duration_seconds",
				Help:      "Job processing latency",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Number of pending jobs",
			},
		),
		stuckResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "stuck_resets_total",
				Help:      "Total jobs reset by the stuck-job sweep",
			},
		),
		activeWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "active",
				Help:      "Number of active workers",
			},
		),
		embeddingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "embedding",
				Name:      "jobs_total",
				Help:      "Embedding job outcomes (generated, stale, missing, failed)",
			},
			[]string{"outcome"},
		),
		embedDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "embedding",
				Name:      "duration_seconds",
				Help:      "Embedding generation latency",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
		),
		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "embedding_cache",
				Name:      "operations_total",
				Help:      "Embedding cache operations (hit, miss, eviction)",
			},
			[]string{"operation"},
		),
		searchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "queries_total",
				Help:      "Total search queries",
			},
		),
		searchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "duration_seconds",
				Help:      "Search latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
		searchResultSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "results",
				Help:      "Search result count distribution",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.writesTotal, m.writeErrors, m.writeDuration,
		m.readsTotal, m.readDuration,
		m.enqueuesTotal, m.jobsTotal, m.jobDuration, m.queueDepth, m.stuckResets,
		m.activeWorkers,
		m.embeddingsTotal, m.embedDuration, m.cacheOps,
		m.searchesTotal, m.searchDuration, m.searchResultSize,
	)

	return m
}

func (m *PrometheusMetrics) RecordWrite(operation, entityType string, duration time.Duration) {
	m.writesTotal.WithLabelValues(operation, entityType).Inc()
	m.writeDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordWriteError(operation string, errorType string) {
	m.writeErrors.WithLabelValues(operation, errorType).Inc()
}

func (m *PrometheusMetrics) RecordRead(operation string, duration time.Duration) {
	m.readsTotal.WithLabelValues(operation).Inc()
	m.readDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordEnqueue(jobType string) {
	m.enqueuesTotal.WithLabelValues(jobType).Inc()
}

func (m *PrometheusMetrics) RecordJob(status string, duration time.Duration) {
	m.jobsTotal.WithLabelValues(status).Inc()
	m.jobDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) UpdateQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *PrometheusMetrics) RecordStuckReset(count int) {
	m.stuckResets.Add(float64(count))
}

func (m *PrometheusMetrics) UpdateActiveWorkers(count int) {
	m.activeWorkers.Set(float64(count))
}

func (m *PrometheusMetrics) RecordEmbedding(outcome string, duration time.Duration) {
	m.embeddingsTotal.WithLabelValues(outcome).Inc()
	m.embedDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordCacheOperation(operation string) {
	m.cacheOps.WithLabelValues(operation).Inc()
}

func (m *PrometheusMetrics) RecordSearch(duration time.Duration, results int) {
	m.searchesTotal.Inc()
	m.searchDuration.Observe(duration.Seconds())
	m.searchResultSize.Observe(float64(results))
}

// HTTPHandler returns the Prometheus scrape handler for this registry
func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
