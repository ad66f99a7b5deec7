// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Body size buckets, 512B to 32MB.
var sizeBuckets = prometheus.ExponentialBuckets(512, 4, 9)

// Fallback kinds recorded in FallbacksTotal.
const (
	FallbackURIRewrite = "uri_rewrite"
	FallbackHostHeader = "host_header"
	FallbackBodyRead   = "body_read"
)

// Injection results recorded in InjectionsTotal.
const (
	InjectionSpliced       = "spliced"
	InjectionMarkerMissing = "marker_missing"
	InjectionReadError     = "read_error"
)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration   *prometheus.HistogramVec
	UpstreamResponses  *prometheus.CounterVec
	UpstreamFailures   *prometheus.CounterVec
	BreakerTransitions *prometheus.CounterVec

	InjectionsTotal   *prometheus.CounterVec
	InjectedBodyBytes prometheus.Histogram
	FallbacksTotal    *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roller_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roller_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roller_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roller_proxy_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds, up to response headers.",
			Buckets: defaultBuckets,
		}, []string{"method"}),
		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roller_proxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),
		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roller_proxy_upstream_failures_total",
			Help: "Upstream transport failures answered with 502, by reason.",
		}, []string{"reason"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roller_proxy_circuit_breaker_transitions_total",
			Help: "Upstream circuit breaker state transitions.",
		}, []string{"from", "to"}),
		InjectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roller_proxy_injections_total",
			Help: "Buffered responses on injection paths, by outcome.",
		}, []string{"result"}),
		InjectedBodyBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roller_proxy_injected_body_bytes",
			Help:    "Size of upstream bodies buffered for injection.",
			Buckets: sizeBuckets,
		}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roller_proxy_fallbacks_total",
			Help: "Requests that took a graceful-degradation path, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamFailures,
		m.BreakerTransitions,
		m.InjectionsTotal,
		m.InjectedBodyBytes,
		m.FallbacksTotal,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// NormalizeRoute returns a bounded route label. Echo reports the matched
// route pattern, which is already bounded; unmatched requests report "".
func NormalizeRoute(route string) string {
	if route == "" {
		return "other"
	}
	return route
}
