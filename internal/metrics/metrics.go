// Package metrics exposes Prometheus collectors for the sync service.
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
	syncRunsTotal                 *prometheus.CounterVec
	syncRunDurationSeconds        prometheus.Histogram
	syncPostsTotal                *prometheus.CounterVec
	crawlerDurationSeconds        *prometheus.HistogramVec
	enrichFailuresTotal           *prometheus.CounterVec
	scrapeFetchesTotal            *prometheus.CounterVec
	scrapeBytesTotal              *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	scrapeRateLimitDelaysSeconds  *prometheus.HistogramVec
	syncCheckpointTimestampSecond prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		syncRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postsync_runs_total",
				Help: "Total number of sync runs, labeled by status.",
			},
			[]string{"status"},
		)

		syncRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "postsync_run_duration_seconds",
				Help:    "Histogram of end-to-end sync run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		syncPostsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postsync_posts_total",
				Help: "Posts seen by the pipeline, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		crawlerDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "postsync_crawler_duration_seconds",
				Help:    "Histogram of listing crawl durations, labeled by crawler and status.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"crawler", "status"},
		)

		enrichFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postsync_enrich_failures_total",
				Help: "Enrichment failures, labeled by source.",
			},
			[]string{"source"},
		)

		scrapeFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postsync_scrape_fetches_total",
				Help: "Page fetches, labeled by host, fetcher and status.",
			},
			[]string{"site", "fetcher", "status"},
		)

		scrapeBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postsync_scrape_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
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

		scrapeRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "postsync_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		syncCheckpointTimestampSecond = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "postsync_checkpoint_timestamp_seconds",
				Help: "Unix time of the last committed checkpoint.",
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

// ObserveRun records a finished sync run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	syncRunsTotal.WithLabelValues(status).Inc()
	syncRunDurationSeconds.Observe(duration.Seconds())
}

// ObservePosts adds n posts with the given outcome for a source.
func ObservePosts(source, outcome string, n int) {
	if n <= 0 {
		return
	}
	Init()
	syncPostsTotal.WithLabelValues(source, outcome).Add(float64(n))
}

// ObserveCrawler records how long one crawler took.
func ObserveCrawler(crawler, status string, duration time.Duration) {
	Init()
	crawlerDurationSeconds.WithLabelValues(crawler, status).Observe(duration.Seconds())
}

// ObserveEnrichFailure increments the enrichment failure counter.
func ObserveEnrichFailure(source string) {
	Init()
	enrichFailuresTotal.WithLabelValues(source).Inc()
}

// ObserveFetch records one page fetch.
func ObserveFetch(site, fetcher, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	scrapeFetchesTotal.WithLabelValues(sanitizedSite, fetcher, status).Inc()
	if bytesFetched > 0 {
		scrapeBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	scrapeRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// SetCheckpoint exports the committed checkpoint.
func SetCheckpoint(at time.Time) {
	Init()
	syncCheckpointTimestampSecond.Set(float64(at.Unix()))
}
