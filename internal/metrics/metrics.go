// Package metrics exposes Prometheus collectors for the archiver service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	extractRequestsTotal       *prometheus.CounterVec
	extractStrategyTotal       *prometheus.CounterVec
	imageFetchTotal            *prometheus.CounterVec
	fetchThrottleSeconds       *prometheus.HistogramVec
	sessionsActive             prometheus.Gauge
	sessionsExpiredTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		extractRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_extract_requests_total",
				Help: "Total number of extraction requests, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		extractStrategyTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_extract_strategy_total",
				Help: "Extractions resolved by each strategy of the cascade.",
			},
			[]string{"strategy"},
		)

		imageFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_image_fetch_total",
				Help: "Candidate image fetches, labeled by outcome (ok, fallback, failed).",
			},
			[]string{"outcome"},
		)

		fetchThrottleSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_fetch_throttle_seconds",
				Help:    "Time image fetches spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)

		sessionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_sessions_active",
				Help: "Number of archives currently available for download.",
			},
		)

		sessionsExpiredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_sessions_expired_total",
				Help: "Total number of sessions removed by the sweeper.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// SiteLabel lowercases a configured site name for use as a label value.
// Request input never reaches the label, which keeps its cardinality at one
// series per configured site.
func SiteLabel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "unknown"
	}
	return name
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveExtractRequest counts a finished extraction request for site.
func ObserveExtractRequest(site, outcome string) {
	extractRequestsTotal.WithLabelValues(SiteLabel(site), outcome).Inc()
}

// ObserveStrategy records which strategy produced a non-empty image set.
// Strategies that found nothing are not counted.
func ObserveStrategy(strategy string, accepted int) {
	if accepted == 0 {
		return
	}
	extractStrategyTotal.WithLabelValues(strategy).Inc()
}

// ObserveImageFetch counts a candidate fetch outcome.
func ObserveImageFetch(outcome string) {
	imageFetchTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchThrottle records how long a fetch waited for its host's token.
func ObserveFetchThrottle(host string, d time.Duration) {
	fetchThrottleSeconds.WithLabelValues(host).Observe(d.Seconds())
}

// IncActiveSessions increments the active sessions gauge.
func IncActiveSessions() {
	sessionsActive.Inc()
}

// ObserveSessionExpired decrements the active gauge and counts the expiry.
func ObserveSessionExpired() {
	sessionsActive.Dec()
	sessionsExpiredTotal.Inc()
}

// SetActiveSessions resets the gauge, e.g. from a shared registry at startup.
func SetActiveSessions(n int) {
	sessionsActive.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
