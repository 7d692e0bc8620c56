// Package metrics holds the Prometheus collectors exported by the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session Metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskgate_sessions_active",
		Help: "The current number of live MCP sessions.",
	})
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskgate_sessions_created_total",
		Help: "The total number of MCP sessions created.",
	})
	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskgate_sessions_closed_total",
		Help: "The total number of MCP sessions closed, by reason.",
	}, []string{"reason"})

	// Upstream Metrics
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskgate_upstream_requests_total",
		Help: "The total number of upstream request attempts, by operation and outcome.",
	}, []string{"operation", "outcome"})
	UpstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskgate_upstream_retries_total",
		Help: "The total number of upstream retries, by operation and error kind.",
	}, []string{"operation", "kind"})

	// OAuth Metrics
	OAuthCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskgate_oauth_callbacks_total",
		Help: "The total number of OAuth callbacks handled, by result.",
	}, []string{"result"})
	OAuthTokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskgate_oauth_token_requests_total",
		Help: "The total number of client token requests, by grant type and result.",
	}, []string{"grant_type", "result"})

	// HTTP Metrics
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskgate_rate_limit_rejections_total",
		Help: "The total number of requests rejected by rate limiting, by path.",
	}, []string{"path"})
)

// Session close reasons.
const (
	ReasonTerminated = "terminated"
	ReasonIdle       = "idle"
	ReasonEvicted    = "evicted"
	ReasonClosed     = "transport_closed"
	ReasonShutdown   = "shutdown"
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
