// Package metrics exposes Prometheus collectors for the scrapqt services.
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
	scrapeJobsTotal         prometheus.Counter
	scrapeProductsTotal     *prometheus.CounterVec
	scrapePluginErrorsTotal prometheus.Counter
	scrapeJobDuration       prometheus.Histogram

	sentimentJobsTotal  *prometheus.CounterVec
	sentimentItemsTotal *prometheus.CounterVec
	providerRetryTotal  prometheus.Counter

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		scrapeJobsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scrapqt_scrape_jobs_total",
			Help: "Total scrape jobs executed.",
		})
		scrapeProductsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapqt_scrape_products_total",
			Help: "Products written by scrape jobs, labeled by outcome (added/updated).",
		}, []string{"outcome"})
		scrapePluginErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scrapqt_scrape_plugin_errors_total",
			Help: "Per-plugin failures reported inside scrape jobs.",
		})
		scrapeJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scrapqt_scrape_job_duration_seconds",
			Help:    "Wall time per scrape job.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 30, 60},
		})
		sentimentJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapqt_sentiment_jobs_total",
			Help: "Sentiment jobs by terminal status.",
		}, []string{"status"})
		sentimentItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapqt_sentiment_items_total",
			Help: "Sentiment items by outcome (scored/errored/skipped).",
		}, []string{"outcome"})
		providerRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scrapqt_provider_retries_total",
			Help: "Retries against the scoring provider.",
		})
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapqt_http_requests_total",
			Help: "HTTP requests, labeled by method and code.",
		}, []string{"method", "code"})
		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrapqt_http_request_duration_seconds",
			Help:    "HTTP request latency, labeled by method and route.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 5, 30},
		}, []string{"method", "route"})
	})
}

// Handler returns an http.Handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScrapeJob records one finished scrape job.
func ObserveScrapeJob(added, updated, pluginErrors int, elapsed time.Duration) {
	if scrapeJobsTotal == nil {
		return
	}
	scrapeJobsTotal.Inc()
	scrapeProductsTotal.WithLabelValues("added").Add(float64(added))
	scrapeProductsTotal.WithLabelValues("updated").Add(float64(updated))
	scrapePluginErrorsTotal.Add(float64(pluginErrors))
	scrapeJobDuration.Observe(elapsed.Seconds())
}

// ObserveSentimentJob records one terminal sentiment job status.
func ObserveSentimentJob(status string) {
	if sentimentJobsTotal == nil {
		return
	}
	sentimentJobsTotal.WithLabelValues(status).Inc()
}

// ObserveSentimentItem records one processed sentiment item.
func ObserveSentimentItem(outcome string) {
	if sentimentItemsTotal == nil {
		return
	}
	sentimentItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveProviderRetry counts a retry against the scoring provider.
func ObserveProviderRetry() {
	if providerRetryTotal == nil {
		return
	}
	providerRetryTotal.Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
