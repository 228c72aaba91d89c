package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
)

// WorkerMetrics observes the ingestion pipeline.
type WorkerMetrics struct {
	registry *prometheus.Registry

	jobsTotal          *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	jobsInFlight       prometheus.Gauge
	stageDuration      *prometheus.HistogramVec
	extractionBackends *prometheus.CounterVec
	chunksIngested     prometheus.Counter
	jobsEvicted        prometheus.Counter
}

// NewWorkerMetrics registers on registry, or on a fresh one when nil.
func NewWorkerMetrics(service string, registry *prometheus.Registry) *WorkerMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	constLabels := prometheus.Labels{"service": service}

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "jobs_total",
			Help:        "Total processed upload jobs by terminal status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "job_duration_seconds",
			Help:        "Upload job processing duration in seconds by status.",
			Buckets:     []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 900},
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "jobs_in_flight",
			Help:        "Number of upload jobs being processed.",
			ConstLabels: constLabels,
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "stage_duration_seconds",
			Help:        "Time spent in each processing stage.",
			Buckets:     []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			ConstLabels: constLabels,
		},
		[]string{"stage"},
	)
	extractionBackends := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "extraction_backend_total",
			Help:        "Which text extraction backend produced the content.",
			ConstLabels: constLabels,
		},
		[]string{"backend"},
	)
	chunksIngested := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "chunks_ingested_total",
			Help:        "Chunks written to the vector store.",
			ConstLabels: constLabels,
		},
	)
	jobsEvicted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "jobs_evicted_total",
			Help:        "Terminal jobs removed by the retention janitor.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(jobsTotal, jobDuration, jobsInFlight, stageDuration, extractionBackends, chunksIngested, jobsEvicted)

	return &WorkerMetrics{
		registry:           registry,
		jobsTotal:          jobsTotal,
		jobDuration:        jobDuration,
		jobsInFlight:       jobsInFlight,
		stageDuration:      stageDuration,
		extractionBackends: extractionBackends,
		chunksIngested:     chunksIngested,
		jobsEvicted:        jobsEvicted,
	}
}

var _ ports.JobObserver = (*WorkerMetrics)(nil)

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) JobStarted() {
	m.jobsInFlight.Inc()
}

func (m *WorkerMetrics) JobFinished(status domain.JobStatus, duration time.Duration) {
	m.jobsInFlight.Dec()
	m.jobsTotal.WithLabelValues(string(status)).Inc()
	m.jobDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) StageCompleted(stage domain.ProcessingStage, duration time.Duration) {
	m.stageDuration.WithLabelValues(string(stage)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ExtractionBackend(backend string) {
	if backend == "" {
		backend = "unknown"
	}
	m.extractionBackends.WithLabelValues(backend).Inc()
}

func (m *WorkerMetrics) ChunksIngested(count int) {
	if count > 0 {
		m.chunksIngested.Add(float64(count))
	}
}

func (m *WorkerMetrics) JobsEvicted(count int) {
	if count > 0 {
		m.jobsEvicted.Add(float64(count))
	}
}
