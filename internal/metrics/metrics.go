// Package metrics exposes Prometheus collectors for the SEO pipeline service.
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
	projectsAnalyzedTotal         *prometheus.CounterVec
	analysisFallbackTotal         *prometheus.CounterVec
	crawlDurationSeconds          *prometheus.HistogramVec
	transitionsTotal              *prometheus.CounterVec
	statisticsRecomputeTotal      prometheus.Counter
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	robotsProbeFallbackTotal      prometheus.Counter
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		projectsAnalyzedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_projects_analyzed_total",
				Help: "Total number of createAndAnalyze runs, labeled by result.",
			},
			[]string{"result"},
		)

		analysisFallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_analysis_fallback_total",
				Help: "Total number of analyses that degraded to the default record, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seo_crawl_duration_seconds",
				Help:    "Histogram of crawl latencies, labeled by result.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"result"},
		)

		transitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_transitions_total",
				Help: "Total number of requested state transitions, labeled by entity, target state, and result.",
			},
			[]string{"entity", "to", "result"},
		)

		statisticsRecomputeTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "seo_statistics_recompute_total",
				Help: "Total number of project statistics recomputations.",
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		robotsProbeFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "seo_robots_probe_fallback_total",
				Help: "Total robots.txt probes that fell back to allow-all after TLS handshake timeouts.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seo_crawl_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
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

// ObserveProjectAnalyzed counts a finished createAndAnalyze or reanalyze run.
func ObserveProjectAnalyzed(result string) {
	Init()
	projectsAnalyzedTotal.WithLabelValues(result).Inc()
}

// ObserveAnalysisFallback counts a default-record analysis.
func ObserveAnalysisFallback(reason string) {
	Init()
	analysisFallbackTotal.WithLabelValues(reason).Inc()
}

// ObserveCrawl records the latency of one fetch.
func ObserveCrawl(result string, duration time.Duration) {
	Init()
	crawlDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveTransition counts a requested transition and its outcome.
func ObserveTransition(entity, to, result string) {
	Init()
	transitionsTotal.WithLabelValues(entity, to, result).Inc()
}

// ObserveStatisticsRecompute counts a statistics recomputation.
func ObserveStatisticsRecompute() {
	Init()
	statisticsRecomputeTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsProbeFallback increments the robots.txt allow-all fallback counter.
func ObserveRobotsProbeFallback() {
	Init()
	robotsProbeFallbackTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
