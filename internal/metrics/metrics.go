package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "markersplit"

var (
	pagesClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_classified_total",
			Help:      "Page classifications by path, marker and result (match, miss, error)",
		},
		[]string{"path", "marker", "result"},
	)

	classifyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_classify_duration_seconds",
			Help:      "Duration of one page classification by path",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	splits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "splits_total",
			Help:      "Split calls by outcome (success or error kind) and matching path",
		},
		[]string{"outcome", "path"},
	)

	splitLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "split_duration_seconds",
			Help:      "Duration of whole split calls",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	fallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fast_path_fallbacks_total",
			Help:      "Embedded-image passes that did not yield a range and fell back to rasterizing",
		},
	)

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Queued split jobs by final result (success, failed, cancelled, dlq)",
		},
		[]string{"result"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Total number of job retries",
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream, delayed and dlq",
		},
		[]string{"type"},
	)

	rejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "split_requests_rejected_total",
			Help:      "Synchronous split requests rejected by the in-flight limiter",
		},
	)

	registerOnce sync.Once
)

// Init registers collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(pagesClassified, classifyLatency, splits, splitLatency, fallbacks,
			jobsProcessed, retriesTotal, queueDepth, rejected)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObservePage(path, marker, result string, dur time.Duration) {
	pagesClassified.WithLabelValues(path, marker, result).Inc()
	classifyLatency.WithLabelValues(path).Observe(dur.Seconds())
}

func ObserveSplit(outcome, path string, dur time.Duration) {
	splits.WithLabelValues(outcome, path).Inc()
	splitLatency.Observe(dur.Seconds())
}

func IncFallback()                       { fallbacks.Inc() }
func IncProcessed(result string)         { jobsProcessed.WithLabelValues(result).Inc() }
func IncRetry()                          { retriesTotal.Inc() }
func IncRejected()                       { rejected.Inc() }
func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
