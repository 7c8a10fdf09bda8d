package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine run outcomes used as label values
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Metrics holds all Prometheus metrics for the OCR worker. Every method is
// safe on a nil receiver so callers can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Engine metrics
	engineRunsTotal    *prometheus.CounterVec
	engineRunDuration  *prometheus.HistogramVec
	engineSelections   *prometheus.CounterVec
	engineTextLength   *prometheus.HistogramVec
	enginesAvailable   *prometheus.GaugeVec
	preprocessFallback prometheus.Counter

	// Batch metrics
	batchInFlight      prometheus.Gauge
	batchRejectedTotal prometheus.Counter

	// Queue metrics
	queueJobsTotal *prometheus.CounterVec
}

// NewMetrics creates all metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocr_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ocr_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ocr_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		engineRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocr_engine_runs_total",
				Help: "Engine recognition runs by outcome",
			},
			[]string{"engine", "outcome"},
		),
		engineRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ocr_engine_run_duration_seconds",
				Help:    "Engine recognition latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"engine"},
		),
		engineSelections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocr_engine_selections_total",
				Help: "Times each engine won multi-engine selection",
			},
			[]string{"engine"},
		),
		engineTextLength: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ocr_engine_text_characters",
				Help:    "Characters recognized per engine run",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"engine"},
		),
		enginesAvailable: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ocr_engine_available",
				Help: "1 when the engine backend initialized at startup",
			},
			[]string{"engine"},
		),
		preprocessFallback: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ocr_preprocess_fallback_total",
				Help: "Normalizations that fell back to plain grayscale",
			},
		),

		batchInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ocr_batch_items_in_flight",
				Help: "Batch items currently holding an admission slot",
			},
		),
		batchRejectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ocr_batch_rejected_total",
				Help: "Batches rejected for exceeding the size cap",
			},
		),

		queueJobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocr_queue_jobs_total",
				Help: "Queue jobs processed by source and status",
			},
			[]string{"source", "status"},
		),
	}
}

// Registry exposes the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		path := normalizePath(c.Path())
		method := c.Method()

		err := c.Next()

		status := statusClass(c.Response().StatusCode())
		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())

		return err
	}
}

// RecordEngineRun records one engine invocation
func (m *Metrics) RecordEngineRun(engine, outcome string, duration time.Duration, chars int) {
	if m == nil {
		return
	}
	m.engineRunsTotal.WithLabelValues(engine, outcome).Inc()
	m.engineRunDuration.WithLabelValues(engine).Observe(duration.Seconds())
	if outcome == OutcomeSuccess {
		m.engineTextLength.WithLabelValues(engine).Observe(float64(chars))
	}
}

// RecordSelection records the winner of a multi-engine run
func (m *Metrics) RecordSelection(engine string) {
	if m == nil {
		return
	}
	m.engineSelections.WithLabelValues(engine).Inc()
}

// SetEngineAvailability publishes the startup availability map
func (m *Metrics) SetEngineAvailability(labels map[string]bool) {
	if m == nil {
		return
	}
	for engine, ok := range labels {
		v := 0.0
		if ok {
			v = 1
		}
		m.enginesAvailable.WithLabelValues(engine).Set(v)
	}
}

// RecordPreprocessFallback counts a degraded normalization
func (m *Metrics) RecordPreprocessFallback() {
	if m == nil {
		return
	}
	m.preprocessFallback.Inc()
}

// BatchItemStarted marks one batch item admitted through the gate
func (m *Metrics) BatchItemStarted() {
	if m == nil {
		return
	}
	m.batchInFlight.Inc()
}

// BatchItemFinished releases one batch item
func (m *Metrics) BatchItemFinished() {
	if m == nil {
		return
	}
	m.batchInFlight.Dec()
}

// RecordBatchRejected counts a batch refused before any work started
func (m *Metrics) RecordBatchRejected() {
	if m == nil {
		return
	}
	m.batchRejectedTotal.Inc()
}

// RecordQueueJob records a finished queue job
func (m *Metrics) RecordQueueJob(source, status string) {
	if m == nil {
		return
	}
	m.queueJobsTotal.WithLabelValues(source, status).Inc()
}

// Handler returns a Fiber handler that exposes Prometheus metrics
func (m *Metrics) Handler() fiber.Handler {
	if m == nil {
		return adaptor.HTTPHandler(promhttp.Handler())
	}
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// normalizePath bounds label cardinality for unknown paths
func normalizePath(path string) string {
	if len(path) > 50 {
		return "long_path"
	}
	return path
}

// statusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx)
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
