package httpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/biodata-screener/internal/config"
	"github.com/fairyhunter13/biodata-screener/internal/domain"
	"github.com/fairyhunter13/biodata-screener/internal/report"
	"github.com/fairyhunter13/biodata-screener/internal/screening"
	"github.com/fairyhunter13/biodata-screener/internal/usecase"
)

// BatchService runs and looks up screening batches.
type BatchService interface {
	ProcessBatch(ctx domain.Context, req domain.BatchRequest) (domain.BatchResult, error)
	Batch(ctx domain.Context, batchID string) (domain.BatchResult, error)
}

// FileOpener opens working files of a batch.
type FileOpener interface {
	Open(ctx domain.Context, batchID, filename string) (*os.File, os.FileInfo, error)
}

// Server aggregates handlers dependencies.
type Server struct {
	Cfg       config.Config
	Screen    BatchService
	Downloads FileOpener
	Models    domain.ModelLister
	Probes    []usecase.Probe
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, screen BatchService, downloads FileOpener, models domain.ModelLister, probes ...usecase.Probe) *Server {
	return &Server{Cfg: cfg, Screen: screen, Downloads: downloads, Models: models, Probes: probes}
}

type processResponse struct {
	BatchID        string         `json:"batch_id"`
	Matches        []domain.Match `json:"matches"`
	ProcessedFiles int            `json:"processed_files"`
	MatchedFiles   int            `json:"matched_files"`
}

// ProcessHandler screens a multipart batch of PDFs against the criteria in
// "description" and the optional "extra_prompt" condition.
func (s *Server) ProcessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		if !containsFold(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB << 20
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) || containsFold(err.Error(), "request body too large") {
				writeStatus(w, http.StatusRequestEntityTooLarge, "INVALID_ARGUMENT", "payload too large", map[string]any{"max_mb": s.Cfg.MaxUploadMB})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			writeStatus(w, http.StatusBadRequest, "INVALID_ARGUMENT", "No files uploaded", map[string]string{"field": "files"})
			return
		}
		description := r.FormValue("description")
		if strings.TrimSpace(description) == "" {
			writeStatus(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Missing criteria description", map[string]string{"field": "description"})
			return
		}
		extraPrompt := r.FormValue("extra_prompt")
		modelName := strings.TrimSpace(r.FormValue("model_name"))
		if res := ValidateProcessForm(description, extraPrompt, modelName); !res.Valid {
			writeStatus(w, http.StatusBadRequest, "INVALID_ARGUMENT", "validation failed", res.Errors)
			return
		}
		criteria, err := screening.ParseCriteria(description)
		if err != nil {
			writeStatus(w, http.StatusBadRequest, "INVALID_ARGUMENT", criteriaMessage(err), map[string]string{"field": "description"})
			return
		}

		files, err := readUploads(r, headers)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		res, err := s.Screen.ProcessBatch(r.Context(), domain.BatchRequest{
			Files:     files,
			Criteria:  criteria,
			Condition: extraPrompt,
			Model:     modelName,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		base := s.baseURL(r)
		matches := make([]domain.Match, 0, len(res.Matches))
		for _, m := range res.Matches {
			matches = append(matches, domain.Match{Filename: m.Filename, URL: base + m.URL})
		}
		writeJSON(w, http.StatusOK, processResponse{
			BatchID:        res.BatchID,
			Matches:        matches,
			ProcessedFiles: res.ProcessedFiles,
			MatchedFiles:   res.MatchedFiles,
		})
	}
}

// readUploads loads every part into memory; the body is already capped by
// MaxBytesReader. Non-PDF content is logged and left to the extractor,
// which resolves it to an extraction_failed verdict.
func readUploads(r *http.Request, headers []*multipart.FileHeader) ([]domain.UploadFile, error) {
	files := make([]domain.UploadFile, 0, len(headers))
	for _, h := range headers {
		b, err := readPart(h)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", domain.ErrInvalidArgument, h.Filename, err)
		}
		if mt := mimetype.Detect(b); !mt.Is("application/pdf") {
			LoggerFrom(r).Warn("non-pdf upload",
				slog.String("filename", h.Filename),
				slog.String("mime", mt.String()))
		}
		files = append(files, domain.UploadFile{Filename: h.Filename, Content: b})
	}
	return files, nil
}

func readPart(h *multipart.FileHeader) ([]byte, error) {
	f, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func criteriaMessage(err error) string {
	if _, detail, ok := strings.Cut(err.Error(), "invalid criteria format: "); ok {
		return "Invalid criteria format: " + detail
	}
	if containsFold(err.Error(), "missing criteria description") {
		return "Missing criteria description"
	}
	return "Invalid criteria format: " + err.Error()
}

// baseURL returns the scheme and host download links are rooted at.
func (s *Server) baseURL(r *http.Request) string {
	if b := strings.TrimRight(strings.TrimSpace(s.Cfg.PublicBaseURL), "/"); b != "" {
		return b
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

// DownloadHandler streams a working file of a batch until it is cleaned up.
func (s *Server) DownloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := chi.URLParam(r, "batchID")
		filename := chi.URLParam(r, "filename")
		if r.URL.RawPath != "" {
			if v, err := url.PathUnescape(filename); err == nil {
				filename = v
			}
		}
		if res := ValidateBatchID(batchID); !res.Valid {
			writeStatus(w, http.StatusNotFound, "NOT_FOUND", "PDF not found", res.Errors)
			return
		}
		f, fi, err := s.Downloads.Open(r.Context(), batchID, filename)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeStatus(w, http.StatusNotFound, "NOT_FOUND", "PDF not found", nil)
				return
			}
			writeError(w, r, err, nil)
			return
		}
		defer func() { _ = f.Close() }()
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", attachment(filename))
		http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
	}
}

func attachment(filename string) string {
	ascii := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, filename)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, ascii, url.PathEscape(filename))
}

type batchView struct {
	domain.BatchResult
	Counts map[domain.Verdict]int `json:"counts"`
}

// BatchHandler returns the recorded verdicts of a batch.
func (s *Server) BatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		b, ok := s.lookupBatch(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, batchView{BatchResult: b, Counts: b.CountByVerdict()})
	}
}

// ReportHandler renders the recorded verdicts of a batch as an XLSX workbook.
func (s *Server) ReportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := s.lookupBatch(w, r)
		if !ok {
			return
		}
		var buf bytes.Buffer
		if err := report.WriteXLSX(&buf, b, s.baseURL(r)); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", attachment("batch-"+b.BatchID+".xlsx"))
		http.ServeContent(w, r, "", b.CreatedAt, bytes.NewReader(buf.Bytes()))
	}
}

func (s *Server) lookupBatch(w http.ResponseWriter, r *http.Request) (domain.BatchResult, bool) {
	batchID := chi.URLParam(r, "batchID")
	if res := ValidateBatchID(batchID); !res.Valid {
		writeStatus(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid batch id", res.Errors)
		return domain.BatchResult{}, false
	}
	b, err := s.Screen.Batch(r.Context(), batchID)
	if err != nil {
		writeError(w, r, err, nil)
		return domain.BatchResult{}, false
	}
	return b, true
}

// ModelsHandler lists the models the inference backend reports.
func (s *Server) ModelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		if s.Models == nil {
			writeError(w, r, fmt.Errorf("%w: model listing disabled", domain.ErrUpstreamUnavailable), nil)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		models, err := s.Models.ListModels(ctx)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if models == nil {
			models = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": models, "default": s.Cfg.DefaultModel})
	}
}

// ReadyzHandler runs the configured dependency probes under a 5s budget.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		checks, ok := usecase.RunReadiness(ctx, s.Probes...)
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// HealthzHandler reports liveness.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// RateLimitedHandler answers requests rejected by the per-IP limiter.
func RateLimitedHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests",
		map[string]string{"retry_after": w.Header().Get("Retry-After")})
}
