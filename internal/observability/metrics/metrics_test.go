package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/jobs/{jobID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id, nil))
	}

	got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodGet, "/v1/jobs/{jobID}", "404"))
	if got != 2 {
		t.Fatalf("expected 2 requests under the route pattern, got %v", got)
	}
}

func TestRecordRetrievalCountsNoContext(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.RecordRetrieval(0, time.Millisecond)
	m.RecordRetrieval(3, time.Millisecond)

	if got := testutil.ToFloat64(m.retrievalNoContext); got != 1 {
		t.Fatalf("expected 1 no-context retrieval, got %v", got)
	}
	if got := testutil.ToFloat64(m.retrievalTotal.WithLabelValues("true")); got != 1 {
		t.Fatalf("expected 1 hit, got %v", got)
	}
}

func TestWorkerMetricsShareRegistry(t *testing.T) {
	api := NewHTTPServerMetrics("api")
	w := NewWorkerMetrics("api", api.Registry())

	w.JobStarted()
	w.ExtractionBackend("ocr")
	w.ChunksIngested(6)
	w.StageCompleted(domain.StageCreatingChunks, 20*time.Millisecond)
	w.JobFinished(domain.JobFinished, time.Second)

	if got := testutil.ToFloat64(w.jobsInFlight); got != 0 {
		t.Fatalf("expected no jobs in flight, got %v", got)
	}
	if got := testutil.ToFloat64(w.chunksIngested); got != 6 {
		t.Fatalf("expected 6 chunks, got %v", got)
	}

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `kb_worker_extraction_backend_total{backend="ocr",service="api"} 1`) {
		t.Fatalf("worker metrics not exposed on the shared registry:\n%s", rec.Body.String())
	}
}
