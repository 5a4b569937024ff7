// Package metrics exposes process-wide Prometheus collectors and the HTTP
// server that publishes them.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	robotsFallbackTotal           prometheus.Counter
	rateLimitDelaysSeconds        *prometheus.HistogramVec
	checkpointFlushesTotal        *prometheus.CounterVec
	checkpointFlushDurationSecond prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "roundup_robots_fallback_total",
				Help: "Total robots.txt probes replaced by an allow-all policy after TLS timeouts.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roundup_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		checkpointFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roundup_checkpoint_flushes_total",
				Help: "Total checkpoint snapshot writes, labeled by result.",
			},
			[]string{"result"},
		)

		checkpointFlushDurationSecond = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roundup_checkpoint_flush_duration_seconds",
				Help:    "Histogram of checkpoint snapshot write latencies.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts robots.txt probes that fell back to allow-all.
func ObserveRobotsFallback() {
	if robotsFallbackTotal == nil {
		return
	}
	robotsFallbackTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCheckpointFlush records one checkpoint save.
func ObserveCheckpointFlush(err error, duration time.Duration) {
	if checkpointFlushesTotal == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	checkpointFlushesTotal.WithLabelValues(result).Inc()
	checkpointFlushDurationSecond.Observe(duration.Seconds())
}
