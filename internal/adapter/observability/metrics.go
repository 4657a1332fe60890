// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// JobsEnqueuedTotal counts jobs enqueued by kind (compile/evaluate/
	// test_compile/test_evaluate, domain.JobKind's string values).
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"kind"},
	)
	// JobsProcessing is a gauge of the number of jobs currently executing by kind.
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"kind"},
	)
	// JobsCompletedTotal counts jobs completed by kind.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"kind"},
	)
	// JobsFailedTotal counts jobs failed by kind.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"kind"},
	)
	// JobDuration records wall-clock job execution time by kind.
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	// ScoreHistogram is the distribution of computed scores as a fraction
	// of max_score, across all scored submissions.
	ScoreHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "submission_score_fraction",
			Help:    "Distribution of submission score / max_score",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"task"},
	)

	// RankingPostsTotal counts ranking HTTP pushes by endpoint and outcome.
	RankingPostsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_posts_total",
			Help: "Total ranking server pushes by outcome",
		},
		[]string{"endpoint", "outcome"},
	)
	// RankingQueueDepth is the depth of the RankingClient's pending-post queue.
	RankingQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ranking_queue_depth",
			Help: "Number of pending ranking posts not yet acknowledged",
		},
		[]string{"endpoint"},
	)

	// CircuitBreakerStatus tracks circuit breaker state.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)

	// DatasetScoreDrift tracks how far a task's recent average score has
	// moved from its baseline dataset's average, by task and dataset.
	// Large drift after a rejudge onto a new dataset usually means the new
	// dataset's checker or testcases disagree with the old one.
	DatasetScoreDrift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dataset_score_drift",
			Help: "Absolute drift of a task's average score from its baseline dataset",
		},
		[]string{"task", "dataset"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(ScoreHistogram)
	prometheus.MustRegister(RankingPostsTotal)
	prometheus.MustRegister(RankingQueueDepth)
	prometheus.MustRegister(CircuitBreakerStatus)
	prometheus.MustRegister(DatasetScoreDrift)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request. Used
// by each cmd/* binary's /metrics-and-/healthz mux, not by the RPC
// service ports themselves.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueJob increments the enqueued jobs counter for the given kind.
func EnqueueJob(kind string) {
	JobsEnqueuedTotal.WithLabelValues(kind).Inc()
}

// StartProcessingJob increments the processing gauge for the given kind.
func StartProcessingJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Inc()
}

// CompleteJob marks a job complete: decrements the processing gauge,
// increments the completed counter, and records its duration.
func CompleteJob(kind string, dur time.Duration) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsCompletedTotal.WithLabelValues(kind).Inc()
	JobDuration.WithLabelValues(kind).Observe(dur.Seconds())
}

// FailJob marks a job failed: decrements the processing gauge and
// increments the failed counter.
func FailJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsFailedTotal.WithLabelValues(kind).Inc()
}

// ObserveScore records a submission's score as a fraction of max_score.
func ObserveScore(task string, score, maxScore float64) {
	if maxScore <= 0 {
		return
	}
	frac := score / maxScore
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	ScoreHistogram.WithLabelValues(task).Observe(frac)
}

// RecordRankingPost records the outcome of a ranking server push.
func RecordRankingPost(endpoint, outcome string) {
	RankingPostsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// SetRankingQueueDepth sets the RankingClient's current pending-post count.
func SetRankingQueueDepth(endpoint string, depth int) {
	RankingQueueDepth.WithLabelValues(endpoint).Set(float64(depth))
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}

// RecordDatasetScoreDrift records a task's current score drift against its
// baseline dataset.
func RecordDatasetScoreDrift(task, dataset string, drift float64) {
	DatasetScoreDrift.WithLabelValues(task, dataset).Set(drift)
}
