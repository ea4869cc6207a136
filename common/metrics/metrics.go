// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	Redirects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_redirects_total",
		Help: "Navigations issued by the redirect policy, by target route.",
	}, []string{"target"})

	SessionResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_session_resolutions_total",
		Help: "Profile/organization resolutions by outcome (ok, stale, unreachable, error).",
	}, []string{"outcome"})

	FunctionCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_function_calls_total",
		Help: "Serverless function invocations by name and outcome.",
	}, []string{"name", "outcome"})

	OrganizationFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_org_fallback_total",
		Help: "Times a legacy table or serverless fallback path served an organization operation.",
	}, []string{"operation"})

	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crm_live_session_controllers",
		Help: "Session controllers currently held by the registry.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
