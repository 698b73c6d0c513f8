package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ehr_analytics"

// Collector owns a private registry; nothing is registered with the
// prometheus default registry.
type Collector struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	evaluations    *prometheus.CounterVec
	evalDuration   *prometheus.HistogramVec
	ingestedRows   *prometheus.CounterVec
	ingestRejected *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "measure_evaluations_total",
				Help:      "Total number of measure evaluations by outcome",
			},
			[]string{"measure", "outcome"},
		),
		evalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "measure_evaluation_duration_seconds",
				Help:      "Duration of measure evaluations in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"measure"},
		),
		ingestedRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingested_rows_total",
				Help:      "Rows inserted into the record store by kind and source",
			},
			[]string{"kind", "source"},
		),
		ingestRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_rejected_rows_total",
				Help:      "Rows rejected by the record store during ingest",
			},
			[]string{"kind", "source"},
		),
	}
	c.registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.evaluations,
		c.evalDuration,
		c.ingestedRows,
		c.ingestRejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry for additional collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordEvaluation counts one measure evaluation. outcome is "ok",
// "invalid" or "error".
func (c *Collector) RecordEvaluation(measure, outcome string, d time.Duration) {
	c.evaluations.WithLabelValues(measure, outcome).Inc()
	c.evalDuration.WithLabelValues(measure).Observe(d.Seconds())
}

func (c *Collector) RecordIngested(kind, source string, rows int) {
	c.ingestedRows.WithLabelValues(kind, source).Add(float64(rows))
}

func (c *Collector) RecordRejected(kind, source string) {
	c.ingestRejected.WithLabelValues(kind, source).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware records request counts and latency labelled by the matched
// route pattern rather than the raw path.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			start := time.Now()
			err := next(ec)

			status := ec.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := ec.Path()
			if route == "" {
				route = "unmatched"
			}
			c.RecordHTTPRequest(ec.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}
