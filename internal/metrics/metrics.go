// Package metrics exposes Prometheus collectors for the sink service.
// Adapted from the teacher's internal/metrics/metrics.go: same
// once.Do-guarded package-level collectors and HTTP middleware shape,
// retargeted from crawl-fetch series to upload/dedupe/coordination series.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	sinkUploadsTotal          *prometheus.CounterVec
	sinkDedupeSkipsTotal      *prometheus.CounterVec
	sinkBytesSavedTotal       *prometheus.CounterVec
	sinkWatchdogFinalizeTotal *prometheus.CounterVec
	sinkLockWaitSeconds       prometheus.Histogram
	sinkReconcileActionsTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors. Safe to call multiple
// times.
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
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		sinkUploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_uploads_total",
				Help: "Total number of file uploads accepted, labeled by domain and outcome.",
			},
			[]string{"domain", "outcome"}, // outcome: new | duplicate
		)

		sinkDedupeSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_dedupe_skips_total",
				Help: "Total number of uploads recognized as already-known content and skipped, labeled by domain.",
			},
			[]string{"domain"},
		)

		sinkBytesSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_bytes_saved_total",
				Help: "Total bytes written to the downloads tree, labeled by domain.",
			},
			[]string{"domain"},
		)

		sinkWatchdogFinalizeTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_watchdog_finalizes_total",
				Help: "Total number of streaming run buckets auto-finalized by the watchdog, labeled by domain and trigger.",
			},
			[]string{"domain", "trigger"}, // trigger: idle | shutdown
		)

		sinkLockWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sink_lock_wait_seconds",
				Help:    "Histogram of time spent waiting to acquire the process-wide mutation lock.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		)

		sinkReconcileActionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_reconcile_actions_total",
				Help: "Total number of reconciliation actions taken, labeled by domain and action kind.",
			},
			[]string{"domain", "action"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware wraps an http.Handler, recording ObserveHTTPRequest for every
// request it serves. route is the chi route pattern, not the raw path, so
// path-parameterized routes don't explode the cardinality of the method
// label pair.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		ObserveHTTPRequest(r.Method, routePattern(r), rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// routePattern falls back to the raw URL path when no router has set a
// chi route context (e.g. plain net/http tests).
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpload records one accepted upload's outcome and, for bytes
// actually written to disk (everything but a pure dedupe skip), its size.
func ObserveUpload(domain, outcome string, bytesWritten int64) {
	sinkUploadsTotal.WithLabelValues(domain, outcome).Inc()
	if outcome == "duplicate" {
		sinkDedupeSkipsTotal.WithLabelValues(domain).Inc()
		return
	}
	if bytesWritten > 0 {
		sinkBytesSavedTotal.WithLabelValues(domain).Add(float64(bytesWritten))
	}
}

// ObserveWatchdogFinalize records one watchdog-triggered streaming finalize.
func ObserveWatchdogFinalize(domain, trigger string) {
	sinkWatchdogFinalizeTotal.WithLabelValues(domain, trigger).Inc()
}

// ObserveLockWait records how long a caller waited for the mutation lock.
func ObserveLockWait(d time.Duration) {
	sinkLockWaitSeconds.Observe(d.Seconds())
}

// ObserveReconcileAction records one reconciliation action.
func ObserveReconcileAction(domain, action string) {
	sinkReconcileActionsTotal.WithLabelValues(domain, action).Inc()
}
