package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddleware_Basic(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	mw := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(204) }))
	mw.ServeHTTP(rec, r)
	assert.Equal(t, 204, rec.Result().StatusCode)
}

func TestHTTPMetricsMiddleware_RoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMetricsMiddleware)
	r.Get("/api/batches/{batchID}", func(w http.ResponseWriter, r *http.Request) {})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/api/batches/{batchID}", "GET", "OK"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/batches/abc", nil))
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/api/batches/{batchID}", "GET", "OK"))
	assert.Equal(t, before+1, after)
}

func TestInitMetrics_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		InitMetrics()
		InitMetrics()
	})
}

func TestDocumentMetrics(t *testing.T) {
	g0 := testutil.ToFloat64(DocumentsProcessing)
	m0 := testutil.ToFloat64(DocumentsScreenedTotal.WithLabelValues("matched"))

	StartDocument()
	assert.Equal(t, g0+1, testutil.ToFloat64(DocumentsProcessing))
	FinishDocument("matched", 2*time.Second)
	assert.Equal(t, g0, testutil.ToFloat64(DocumentsProcessing))
	assert.Equal(t, m0+1, testutil.ToFloat64(DocumentsScreenedTotal.WithLabelValues("matched")))
}

func TestCleanupAndExtractionMetrics(t *testing.T) {
	d0 := testutil.ToFloat64(CleanupDeletedTotal)
	f0 := testutil.ToFloat64(CleanupFailuresTotal)
	RecordCleanup(nil)
	RecordCleanup(errors.New("busy"))
	assert.Equal(t, d0+1, testutil.ToFloat64(CleanupDeletedTotal))
	assert.Equal(t, f0+1, testutil.ToFloat64(CleanupFailuresTotal))

	s0 := testutil.ToFloat64(CleanupScheduledTotal.WithLabelValues("timer"))
	ScheduleCleanup("timer", 3)
	assert.Equal(t, s0+3, testutil.ToFloat64(CleanupScheduledTotal.WithLabelValues("timer")))

	e0 := testutil.ToFloat64(ExtractionAttemptsTotal.WithLabelValues("layout", "insufficient"))
	RecordExtraction("layout", "insufficient")
	assert.Equal(t, e0+1, testutil.ToFloat64(ExtractionAttemptsTotal.WithLabelValues("layout", "insufficient")))
}

func TestAIMetrics(t *testing.T) {
	a0 := testutil.ToFloat64(AIRequestsTotal.WithLabelValues("ollama", "condition"))
	ObserveAIRequest("ollama", "condition", time.Second)
	FailAIRequest("ollama", "condition", "timeout")
	ObservePromptTokens("condition", 0)
	ObservePromptTokens("condition", 900)
	ObserveBatch("ok", 4)
	assert.Equal(t, a0+1, testutil.ToFloat64(AIRequestsTotal.WithLabelValues("ollama", "condition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(AIRequestErrorsTotal.WithLabelValues("ollama", "condition", "timeout")))
}
