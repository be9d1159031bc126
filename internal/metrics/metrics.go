// Package metrics exposes Prometheus collectors for the HTTP surface and the
// upstream feed connection.
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
	feedConnectRetriesTotal    prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	buildInfo                  *prometheus.GaugeVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depfollow_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "depfollow_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		feedConnectRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "depfollow_feed_connect_retries_total",
				Help: "Total failed change feed connection attempts that were retried.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "depfollow_rate_limit_delay_seconds",
				Help:    "Time derived jobs spent waiting for a rate limit token, labeled by destination.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"destination"},
		)

		buildInfo = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "depfollow_build_info",
				Help: "Always 1; labeled with the running version.",
			},
			[]string{"version"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveFeedRetry counts one retried feed connection attempt.
func ObserveFeedRetry() {
	feedConnectRetriesTotal.Inc()
}

// ObserveRateLimitDelay records time spent waiting on a destination's limiter.
func ObserveRateLimitDelay(destination string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(destination).Observe(d.Seconds())
}

// SetBuildInfo publishes the running version.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}
