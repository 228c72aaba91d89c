package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kirillkom/chat-knowledge-base/internal/core/ports"
	"github.com/kirillkom/chat-knowledge-base/internal/observability/metrics"
)

const defaultInFlightWait = 50 * time.Millisecond

type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	InFlightWait   time.Duration
	CORSOrigins    []string
	// MaxUploadBytes bounds the request body; 0 leaves it to the submitter.
	MaxUploadBytes int64
}

type Router struct {
	submitter ports.DocumentSubmitter
	status    ports.JobStatusReader
	retriever ports.ContextRetriever
	remover   ports.DocumentRemover
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger
	opts      Options
}

func NewRouter(
	submitter ports.DocumentSubmitter,
	status ports.JobStatusReader,
	retriever ports.ContextRetriever,
	remover ports.DocumentRemover,
	httpMetrics *metrics.HTTPServerMetrics,
	opts Options,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.InFlightWait <= 0 {
		opts.InFlightWait = defaultInFlightWait
	}
	return &Router{
		submitter: submitter,
		status:    status,
		retriever: retriever,
		remover:   remover,
		metrics:   httpMetrics,
		logger:    logger,
		opts:      opts,
	}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(rt.logger))
	r.Use(middleware.Recoverer)
	if rt.metrics != nil {
		r.Use(rt.metrics.Middleware)
	}
	if len(rt.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: rt.opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader, "Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", rt.healthz)
	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(rateLimitMiddleware(rt.opts.RateLimitRPS, rt.opts.RateLimitBurst))
		v1.Use(backpressureMiddleware(rt.opts.MaxInFlight, rt.opts.InFlightWait))

		v1.Route("/chats/{chatID}", func(chat chi.Router) {
			chat.Get("/documents", rt.chatOverview)
			chat.Post("/documents", rt.uploadDocument)
			chat.Post("/documents/remote", rt.submitRemote)
			chat.Delete("/documents/{filename}", rt.removeDocument)
			chat.Post("/retrieve", rt.retrieve)
		})
		v1.Get("/jobs/{jobID}", rt.jobStatus)
	})
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitResponse struct {
	Message    string `json:"message"`
	JobID      string `json:"job_id"`
	Processing bool   `json:"processing"`
}

// uploadDocument streams the first "pdf" (or "file") part to the submitter
// without buffering the whole form.
func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if rt.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes+(1<<20))
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'pdf' is required")
		return
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		name := part.FormName()
		if name != "pdf" && name != "file" {
			_ = part.Close()
			continue
		}

		job, err := rt.submitter.Submit(r.Context(), chatID, part.FileName(), part)
		_ = part.Close()
		rt.recordSubmission(err)
		if err != nil {
			rt.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, submitResponse{
			Message:    "upload accepted, processing started",
			JobID:      job.JobID,
			Processing: true,
		})
		return
	}
	writeError(w, http.StatusBadRequest, "multipart field 'pdf' is required")
}

func (rt *Router) submitRemote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI      string `json:"uri"`
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.URI) == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}

	job, err := rt.submitter.SubmitRemote(r.Context(), chi.URLParam(r, "chatID"), req.URI, req.Filename)
	rt.recordSubmission(err)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		Message:    "remote document accepted, download queued",
		JobID:      job.JobID,
		Processing: true,
	})
}

func (rt *Router) chatOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := rt.status.Overview(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (rt *Router) removeDocument(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	filename, err := url.PathUnescape(chi.URLParam(r, "filename"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if err := rt.remover.Remove(r.Context(), chatID, filename); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "document removed", "filename": filename})
}

func (rt *Router) jobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := rt.status.GetStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	start := time.Now()
	result, err := rt.retriever.Retrieve(r.Context(), chi.URLParam(r, "chatID"), req.Query, req.TopK)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordRetrieval(len(result.Sources), time.Since(start))
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) recordSubmission(err error) {
	if rt.metrics != nil {
		rt.metrics.RecordSubmission(submissionOutcome(err))
	}
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
