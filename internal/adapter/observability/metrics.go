package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60, 300},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of inference requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "Inference request duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 180},
		},
		[]string{"provider", "operation"},
	)
	AIRequestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_request_errors_total",
			Help: "Inference failures by provider, operation and kind",
		},
		[]string{"provider", "operation", "kind"},
	)
	PromptTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_prompt_tokens",
			Help:    "Estimated prompt size in tokens",
			Buckets: []float64{128, 256, 512, 1024, 2048, 4096, 8192},
		},
		[]string{"operation"},
	)

	ExtractionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_attempts_total",
			Help: "Text extraction attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	DocumentsScreenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "documents_screened_total",
			Help: "Documents screened by verdict",
		},
		[]string{"verdict"},
	)
	DocumentsProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "documents_processing",
			Help: "Number of documents currently in the pipeline",
		},
	)
	DocumentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "document_duration_seconds",
			Help:    "Per-document pipeline duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)
	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batches_total",
			Help: "Batches processed by outcome",
		},
		[]string{"outcome"},
	)
	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_size_documents",
			Help:    "Number of documents per batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	CleanupScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_scheduled_total",
			Help: "Working paths scheduled for deferred deletion",
		},
		[]string{"backend"},
	)
	CleanupDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanup_deleted_total",
			Help: "Working paths removed by the cleanup scheduler",
		},
	)
	CleanupFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanup_failures_total",
			Help: "Working paths that could not be removed",
		},
	)
)

var registerOnce sync.Once

// InitMetrics registers all collectors with the default registry. It is
// safe to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AIRequestsTotal,
			AIRequestDuration,
			AIRequestErrorsTotal,
			PromptTokens,
			ExtractionAttemptsTotal,
			DocumentsScreenedTotal,
			DocumentsProcessing,
			DocumentDuration,
			BatchesTotal,
			BatchSize,
			CleanupScheduledTotal,
			CleanupDeletedTotal,
			CleanupFailuresTotal,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// ObserveAIRequest records one inference call.
func ObserveAIRequest(provider, operation string, d time.Duration) {
	AIRequestsTotal.WithLabelValues(provider, operation).Inc()
	AIRequestDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// FailAIRequest counts an inference failure of the given kind
// (timeout, unavailable, status, decode).
func FailAIRequest(provider, operation, kind string) {
	AIRequestErrorsTotal.WithLabelValues(provider, operation, kind).Inc()
}

// ObservePromptTokens records the estimated size of a built prompt.
func ObservePromptTokens(operation string, tokens int) {
	if tokens > 0 {
		PromptTokens.WithLabelValues(operation).Observe(float64(tokens))
	}
}

// RecordExtraction counts a strategy attempt; outcome is success,
// insufficient or error.
func RecordExtraction(strategy, outcome string) {
	ExtractionAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
}

// StartDocument marks a document as in flight.
func StartDocument() {
	DocumentsProcessing.Inc()
}

// FinishDocument records a document's verdict and releases its gauge slot.
func FinishDocument(verdict string, d time.Duration) {
	DocumentsProcessing.Dec()
	DocumentsScreenedTotal.WithLabelValues(verdict).Inc()
	DocumentDuration.Observe(d.Seconds())
}

// ObserveBatch records a finished batch.
func ObserveBatch(outcome string, documents int) {
	BatchesTotal.WithLabelValues(outcome).Inc()
	if documents > 0 {
		BatchSize.Observe(float64(documents))
	}
}

// ScheduleCleanup counts paths handed to a cleanup backend.
func ScheduleCleanup(backend string, paths int) {
	CleanupScheduledTotal.WithLabelValues(backend).Add(float64(paths))
}

// RecordCleanup counts the outcome of one deletion.
func RecordCleanup(err error) {
	if err != nil {
		CleanupFailuresTotal.Inc()
		return
	}
	CleanupDeletedTotal.Inc()
}
