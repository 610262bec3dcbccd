// Package metrics owns the service's Prometheus registry: HTTP request
// metrics plus the counters recorded by the billing and analysis domains.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medflow"

// Collector holds the registry and every metric vector the service records.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	webhooks        *prometheus.CounterVec
	analyses        *prometheus.CounterVec
	analysisLatency *prometheus.HistogramVec
	upstreamCalls   *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

// New creates a Collector with its own registry, including Go runtime and
// process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhooks_total",
			Help:      "Payment webhook deliveries by provider state and outcome",
		}, []string{"state", "outcome"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Completed analysis generations by kind and status",
		}, []string{"kind", "status"}),
		analysisLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of analysis generation including the completion call",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		}, []string{"kind"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Outbound calls to third-party APIs by service and result",
		}, []string{"service", "result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per upstream: 0 closed, 1 half-open, 2 open",
		}, []string{"service"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequests, c.httpDuration,
		c.webhooks, c.analyses, c.analysisLatency,
		c.upstreamCalls, c.breakerState,
	)
	return c
}

// Registry exposes the underlying registry, used by tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
}

// Middleware records request count and latency labelled by route pattern.
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

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordWebhook counts one webhook delivery.
func (c *Collector) RecordWebhook(state, outcome string) {
	if c == nil {
		return
	}
	c.webhooks.WithLabelValues(state, outcome).Inc()
}

// RecordAnalysis counts one analysis generation and its duration.
func (c *Collector) RecordAnalysis(kind, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.analyses.WithLabelValues(kind, status).Inc()
	c.analysisLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordUpstream counts one outbound call.
func (c *Collector) RecordUpstream(service, result string) {
	if c == nil {
		return
	}
	c.upstreamCalls.WithLabelValues(service, result).Inc()
}

// SetBreakerState publishes a circuit breaker state (0 closed, 1 half-open, 2 open).
func (c *Collector) SetBreakerState(service string, state int) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(service).Set(float64(state))
}
