// Package metrics exposes the Prometheus collectors for the optimizer proxy.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec
	sessionLoginsTotal         *prometheus.CounterVec
	sessionInvalidationsTotal  prometheus.Counter
	upstreamCallsTotal         *prometheus.CounterVec
	upstreamCallSeconds        *prometheus.HistogramVec
	rateLimitDelaySeconds      prometheus.Histogram
	sideChannelFailuresTotal   *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry. Repeated calls
// are no-ops.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_http_requests_total",
				Help: "HTTP requests served, by method, route and status code.",
			},
			[]string{"method", "route", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optimizer_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 180, 600},
			},
			[]string{"method", "route"},
		)
		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_cache_lookups_total",
				Help: "Result cache lookups by outcome (hit or miss).",
			},
			[]string{"result"},
		)
		sessionLoginsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_session_logins_total",
				Help: "Browser session sign-in attempts by result.",
			},
			[]string{"result"},
		)
		sessionInvalidationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "optimizer_session_invalidations_total",
				Help: "Times the browser session was torn down after a failure.",
			},
		)
		upstreamCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_upstream_calls_total",
				Help: "In-page upstream API calls by operation and status code.",
			},
			[]string{"operation", "code"},
		)
		upstreamCallSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optimizer_upstream_call_duration_seconds",
				Help:    "In-page upstream API call latency by operation.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"operation"},
		)
		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "optimizer_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the upstream rate limiter.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
		sideChannelFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_side_channel_failures_total",
				Help: "Best-effort archive and notification failures by channel.",
			},
			[]string{"channel"},
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCacheLookup records a result cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveLogin records a sign-in attempt.
func ObserveLogin(err error) {
	Init()
	result := "success"
	if err != nil {
		result = "error"
	}
	sessionLoginsTotal.WithLabelValues(result).Inc()
}

// ObserveInvalidation records a session teardown.
func ObserveInvalidation() {
	Init()
	sessionInvalidationsTotal.Inc()
}

// ObserveUpstreamCall records an in-page API call. code 0 means the call
// never produced an HTTP status.
func ObserveUpstreamCall(operation string, code int, duration time.Duration) {
	Init()
	upstreamCallsTotal.WithLabelValues(operation, strconv.Itoa(code)).Inc()
	upstreamCallSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records time spent blocked on the limiter.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveSideChannelFailure counts a failed archive or notify attempt.
func ObserveSideChannelFailure(channel string) {
	Init()
	sideChannelFailuresTotal.WithLabelValues(channel).Inc()
}
