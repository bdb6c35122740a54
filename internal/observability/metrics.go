package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and the import
// pipeline.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	rowsProcessedTotal     *prometheus.CounterVec
	stampsRenderedTotal    prometheus.Counter
	stampRenderFailedTotal prometheus.Counter
	renderDuration         prometheus.Histogram
	parseDuration          prometheus.Histogram
	importsInflight        prometheus.Gauge
	jobsFinishedTotal      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "etsy_helper",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "etsy_helper",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		rowsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "etsy_helper",
				Name:      "import_rows_processed_total",
				Help:      "Total number of spreadsheet rows processed by outcome.",
			},
			[]string{"status"},
		),
		stampsRenderedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "etsy_helper",
				Name:      "stamps_rendered_total",
				Help:      "Total number of personalization groups rendered successfully.",
			},
		),
		stampRenderFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "etsy_helper",
				Name:      "stamp_render_failed_total",
				Help:      "Total number of personalization groups that failed to render.",
			},
		),
		renderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "etsy_helper",
				Name:      "render_duration_seconds",
				Help:      "Render collaborator call duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		parseDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "etsy_helper",
				Name:      "parse_duration_seconds",
				Help:      "Variation parsing collaborator call duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		importsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "etsy_helper",
				Name:      "imports_inflight",
				Help:      "Current number of import batches being processed.",
			},
		),
		jobsFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "etsy_helper",
				Name:      "import_jobs_finished_total",
				Help:      "Total number of import jobs reaching a terminal state by status.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.rowsProcessedTotal,
		m.stampsRenderedTotal,
		m.stampRenderFailedTotal,
		m.renderDuration,
		m.parseDuration,
		m.importsInflight,
		m.jobsFinishedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncRowProcessed(status string) {
	if m == nil {
		return
	}
	m.rowsProcessedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncStampRendered() {
	if m == nil {
		return
	}
	m.stampsRenderedTotal.Inc()
}

func (m *Metrics) IncStampRenderFailed() {
	if m == nil {
		return
	}
	m.stampRenderFailedTotal.Inc()
}

func (m *Metrics) ObserveRenderDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.renderDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) ObserveParseDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.parseDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncImportsInFlight() {
	if m == nil {
		return
	}
	m.importsInflight.Inc()
}

func (m *Metrics) DecImportsInFlight() {
	if m == nil {
		return
	}
	m.importsInflight.Dec()
}

func (m *Metrics) IncJobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsFinishedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func nonNegativeSeconds(duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}

func normalizeLabel(label string) string {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
