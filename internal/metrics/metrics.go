// Package metrics exposes Prometheus collectors for the crisis collector.
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

// Cycle results.
const (
	CycleOK    = "ok"
	CycleError = "error"
)

// Source fetch outcomes.
const (
	FetchOK    = "ok"
	FetchError = "error"
	FetchEmpty = "empty"
)

// Candidate outcomes.
const (
	CandidateRelevant   = "relevant"
	CandidateIrrelevant = "irrelevant"
	CandidateSkipped    = "skipped"
)

var (
	cyclesTotal                *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	eventsTotal                *prometheus.CounterVec
	collectorFailuresTotal     *prometheus.CounterVec
	sourceFetchesTotal         *prometheus.CounterVec
	candidatesTotal            *prometheus.CounterVec
	loopRunning                prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_collection_cycles_total",
				Help: "Total number of collection cycles, labeled by result.",
			},
			[]string{"result"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crisis_collection_cycle_duration_seconds",
				Help:    "Histogram of collection cycle durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		eventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_events_collected_total",
				Help: "Total number of crisis events collected, labeled by collector and event type.",
			},
			[]string{"collector", "event_type"},
		)

		collectorFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_collector_failures_total",
				Help: "Total number of collector invocations that failed or panicked.",
			},
			[]string{"collector"},
		)

		sourceFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_source_fetches_total",
				Help: "Total number of source fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_candidates_total",
				Help: "Total number of extracted article candidates, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		loopRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crisis_collection_loop_running",
				Help: "1 while the scheduling loop is running.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crisis_rate_limit_delay_seconds",
				Help:    "Time spent waiting for a per-host fetch token.",
				Buckets: prometheus.DefBuckets,
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
	Init()
	return promhttp.Handler()
}

// ObserveCycle records a finished collection cycle.
func ObserveCycle(result string, duration time.Duration) {
	Init()
	cyclesTotal.WithLabelValues(result).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveEvent counts one collected event.
func ObserveEvent(collector, eventType string) {
	Init()
	eventsTotal.WithLabelValues(collector, eventType).Inc()
}

// ObserveCollectorFailure counts a failed collector invocation.
func ObserveCollectorFailure(collector string) {
	Init()
	collectorFailuresTotal.WithLabelValues(collector).Inc()
}

// ObserveSourceFetch counts a fetch attempt against a source URL.
func ObserveSourceFetch(sourceURL, outcome string) {
	Init()
	sourceFetchesTotal.WithLabelValues(SanitizeSite(sourceURL), outcome).Inc()
}

// ObserveCandidate counts one extracted candidate.
func ObserveCandidate(sourceURL, outcome string) {
	Init()
	candidatesTotal.WithLabelValues(SanitizeSite(sourceURL), outcome).Inc()
}

// SetLoopRunning flips the loop gauge.
func SetLoopRunning(running bool) {
	Init()
	if running {
		loopRunning.Set(1)
		return
	}
	loopRunning.Set(0)
}

// ObserveRateLimitDelay records a wait imposed by the per-host limiter.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
