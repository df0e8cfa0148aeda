// Package metrics exposes the gateway's Prometheus instrumentation.
// Grounded on the teacher's internal/monitoring/metrics.go (promauto
// registration style, label dimensions), trimmed to the counters and
// histograms this rewrite's components actually produce: HTTP-surface
// traffic (C9), upstream calls and retries (C6/C8), credential health
// (C2/C4), and streaming/tool-call activity (C7).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusgate_http_requests_total",
			Help: "Total number of HTTP requests served by the gateway.",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexusgate_http_request_duration_seconds",
			Help:    "Gateway HTTP request latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nexusgate_http_inflight",
		Help: "Number of HTTP requests currently being processed.",
	})

	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusgate_upstream_requests_total",
			Help: "Total number of upstream requests, by provider and outcome.",
		},
		[]string{"provider", "status_class"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexusgate_upstream_request_duration_seconds",
			Help:    "Upstream request latency in seconds, by provider.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	UpstreamRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusgate_upstream_retries_total",
			Help: "Total number of retry attempts, by provider and retry class.",
		},
		[]string{"provider", "class"},
	)

	CredentialHealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexusgate_credential_health_score",
			Help: "Current health score per (provider, credential).",
		},
		[]string{"provider", "credential"},
	)

	CredentialQuarantinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusgate_credential_quarantines_total",
			Help: "Total number of credentials moved into quarantine.",
		},
		[]string{"provider"},
	)

	TokensUsedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusgate_tokens_used_total",
			Help: "Total tokens counted, by model and direction.",
		},
		[]string{"model", "direction"}, // direction: input|output
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusgate_tool_calls_total",
			Help: "Total number of tool_use blocks assembled by the translator.",
		},
		[]string{"provider"},
	)

	ActiveCredentials = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexusgate_active_credentials",
			Help: "Number of active credentials, by provider.",
		},
		[]string{"provider"},
	)

	BalancerBackendHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexusgate_balancer_backend_healthy",
			Help: "Balancer's current view of backend health (1=healthy, 0=unhealthy).",
		},
		[]string{"backend"},
	)

	BalancerIPMappingSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nexusgate_balancer_ip_mapping_size",
		Help: "Current number of entries in the balancer's IP-to-backend cache.",
	})
)

// StatusClass buckets an HTTP status code into its "Nxx" class, or
// "error" when code is non-positive (e.g. the client disconnected before
// a status was ever written).
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return string(rune('0'+code/100)) + "xx"
}
