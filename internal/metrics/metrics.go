// Package metrics exposes Prometheus collectors for the auth service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	authEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Auth events by type and outcome.",
		},
		[]string{"event", "outcome"},
	)

	auditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_audit_write_failures_total",
			Help: "Audit log rows that could not be persisted.",
		},
	)

	rateLimitFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_ratelimit_fallback_total",
			Help: "Rate-limit checks served by the in-process fallback store.",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter, by scope.",
		},
		[]string{"scope"},
	)

	sessionsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_sessions_pruned_total",
			Help: "Expired session rows removed by the maintenance loop.",
		},
	)
)

// RecordRequest records one completed HTTP request.
func RecordRequest(method, route string, status int, duration time.Duration) {
	requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAuthEvent records an auth event outcome ("success" or "failure").
func RecordAuthEvent(event string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	authEventsTotal.WithLabelValues(event, outcome).Inc()
}

// RecordAuditWriteFailure counts an audit insert that failed. The failure is
// deliberately not propagated to the request path, so the counter is the only
// way operators see it.
func RecordAuditWriteFailure() {
	auditWriteFailures.Inc()
}

// RecordRateLimitFallback counts a check that fell back to in-process counting.
func RecordRateLimitFallback() {
	rateLimitFallbacks.Inc()
}

// RecordRateLimitRejection counts a rejected request for the given scope
// ("login" or "refresh").
func RecordRateLimitRejection(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

// RecordSessionsPruned counts rows removed by session maintenance.
func RecordSessionsPruned(n int64) {
	if n > 0 {
		sessionsPruned.Add(float64(n))
	}
}

// Handler returns the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
