package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/biodata-screener/internal/adapter/observability"
	"github.com/fairyhunter13/biodata-screener/internal/domain"
	obsctx "github.com/fairyhunter13/biodata-screener/internal/observability"
	"github.com/fairyhunter13/biodata-screener/internal/screening"
	"github.com/fairyhunter13/biodata-screener/pkg/textx"
)

// PromptBuilder renders the two prompts sent per document.
type PromptBuilder interface {
	BuildCondition(model, text, condition string) string
	BuildExtraction(model, text string, keys []string) string
}

// TokenEstimator approximates the token count of a prompt for accounting.
type TokenEstimator interface {
	Estimate(text, model string) int
}

// ScreenConfig carries the orchestrator settings.
type ScreenConfig struct {
	WorkDir      string
	MaxWorkers   int
	CleanupDelay time.Duration
	DefaultModel string
	Sampling     domain.SamplingOptions
	// CleanupBackend labels the cleanup metrics ("timer" or "redis").
	CleanupBackend string
}

// WorkerCap returns the pool size for a batch of n documents.
func (c ScreenConfig) WorkerCap(n int) int {
	return min(n, max(c.MaxWorkers, 1))
}

// ScreenService runs the screening pipeline over a batch of documents.
type ScreenService struct {
	Extractor domain.TextExtractor
	Gateway   domain.Gateway
	Prompts   PromptBuilder
	Cleanup   domain.CleanupScheduler
	Tokens    TokenEstimator
	Store     domain.VerdictStore
	Events    domain.EventPublisher
	Cfg       ScreenConfig

	// Fallback takes the deletion when Cleanup rejects it.
	Fallback domain.CleanupScheduler
}

// NewScreenService constructs a ScreenService with its required collaborators.
// Tokens, Store and Events are optional and may be set on the returned value.
func NewScreenService(ex domain.TextExtractor, gw domain.Gateway, pb PromptBuilder, cl domain.CleanupScheduler, cfg ScreenConfig) *ScreenService {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "mistral"
	}
	return &ScreenService{Extractor: ex, Gateway: gw, Prompts: pb, Cleanup: cl, Cfg: cfg}
}

// DownloadPath returns the relative retrieval URL of a working file.
func DownloadPath(batchID, filename string) string {
	return "/api/download/" + url.PathEscape(batchID) + "/" + url.PathEscape(filename) + "/"
}

// ProcessBatch screens every file of req and returns the aggregated result.
// Per-document failures never fail the batch; each document resolves to
// exactly one verdict.
func (s *ScreenService) ProcessBatch(ctx domain.Context, req domain.BatchRequest) (domain.BatchResult, error) {
	if len(req.Files) == 0 {
		return domain.BatchResult{}, fmt.Errorf("%w: no files uploaded", domain.ErrInvalidArgument)
	}
	names := make([]string, len(req.Files))
	for i, f := range req.Files {
		name, err := SanitizeFilename(f.Filename)
		if err != nil {
			return domain.BatchResult{}, err
		}
		names[i] = name
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.Cfg.DefaultModel
	}

	batchID := ulid.Make().String()
	ctx = obsctx.ContextWithBatch(ctx, batchID)
	lg := obsctx.LoggerFromContext(ctx)
	tracer := otel.Tracer("usecase.screen")
	ctx, span := tracer.Start(ctx, "ScreenService.ProcessBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.files", len(req.Files)),
		attribute.String("ai.model", model),
		attribute.Int("criteria.keys", len(req.Criteria)),
	)
	started := time.Now()

	docs, err := s.persist(batchID, names, req.Files)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist")
		observability.ObserveBatch("error", len(req.Files))
		s.scheduleCleanup(ctx, batchID, docs)
		return domain.BatchResult{}, fmt.Errorf("op=screen.ProcessBatch: %w", err)
	}

	lg.Info("batch started",
		slog.Int("files", len(docs)),
		slog.String("model", model),
		slog.Int("criteria_keys", len(req.Criteria)),
		slog.Bool("has_condition", strings.TrimSpace(req.Condition) != ""))

	workers := s.Cfg.WorkerCap(len(docs))
	results := make(chan domain.DocumentVerdict, len(docs))
	var g errgroup.Group
	g.SetLimit(workers)
	for _, d := range docs {
		g.Go(func() error {
			results <- s.screenDocument(ctx, d, req, model)
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	out := domain.BatchResult{
		BatchID:   batchID,
		Model:     model,
		Matches:   []domain.Match{},
		Verdicts:  make([]domain.DocumentVerdict, 0, len(docs)),
		CreatedAt: started.UTC(),
		ExpiresAt: started.Add(s.Cfg.CleanupDelay).UTC(),
	}
	for v := range results {
		out.Verdicts = append(out.Verdicts, v)
		if v.Verdict == domain.VerdictMatched {
			out.Matches = append(out.Matches, domain.Match{Filename: v.Filename, URL: DownloadPath(batchID, v.Filename)})
		}
	}
	out.ProcessedFiles = len(out.Verdicts)
	out.MatchedFiles = len(out.Matches)

	s.scheduleCleanup(ctx, batchID, docs)

	counts := out.CountByVerdict()
	lg.Info("batch finished",
		slog.Int("processed", out.ProcessedFiles),
		slog.Int("matched", out.MatchedFiles),
		slog.Int("rejected_condition", counts[domain.VerdictRejectedCondition]),
		slog.Int("rejected_criteria", counts[domain.VerdictRejectedCriteria]),
		slog.Int("extraction_failed", counts[domain.VerdictExtractionFailed]),
		slog.Duration("elapsed", time.Since(started)))
	span.SetAttributes(attribute.Int("batch.matched", out.MatchedFiles))

	if err := ctx.Err(); err != nil {
		observability.ObserveBatch("canceled", out.ProcessedFiles)
		span.SetStatus(codes.Error, "canceled")
		return out, fmt.Errorf("op=screen.ProcessBatch: %w", err)
	}
	observability.ObserveBatch("success", out.ProcessedFiles)
	s.record(ctx, out)
	return out, nil
}

// persist writes each upload under WORK_DIR/<batchID>/. Names colliding
// within the batch get a numeric suffix. It returns the documents written
// so far even on error so they can still be cleaned up.
func (s *ScreenService) persist(batchID string, names []string, files []domain.UploadFile) ([]domain.Document, error) {
	dir := filepath.Join(s.Cfg.WorkDir, batchID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create batch dir: %w", err)
	}
	seen := map[string]struct{}{domain.BatchDoneMarker: {}}
	docs := make([]domain.Document, 0, len(files))
	for i, f := range files {
		name := dedupe(names[i], seen)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, f.Content, 0o600); err != nil {
			return docs, fmt.Errorf("write %s: %w", name, err)
		}
		docs = append(docs, domain.Document{Filename: name, Path: path})
	}
	return docs, nil
}

func dedupe(name string, seen map[string]struct{}) string {
	if _, ok := seen[name]; !ok {
		seen[name] = struct{}{}
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		cand := stem + "_" + strconv.Itoa(i) + ext
		if _, ok := seen[cand]; !ok {
			seen[cand] = struct{}{}
			return cand
		}
	}
}

// SanitizeFilename reduces an uploaded name to a safe basename.
func SanitizeFilename(name string) (string, error) {
	n := strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	n = filepath.Base(n)
	n = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, n)
	if n == "" || n == "." || n == ".." || n == "/" {
		return "", fmt.Errorf("%w: unusable filename %q", domain.ErrInvalidArgument, name)
	}
	return n, nil
}

// screenDocument resolves one document to its verdict. It never panics.
func (s *ScreenService) screenDocument(ctx context.Context, d domain.Document, req domain.BatchRequest, model string) (v domain.DocumentVerdict) {
	start := time.Now()
	v = domain.DocumentVerdict{Filename: d.Filename}
	tracer := otel.Tracer("usecase.screen")
	ctx, span := tracer.Start(ctx, "ScreenService.screenDocument")
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("filename", d.Filename))
	observability.StartDocument()
	defer func() {
		if r := recover(); r != nil {
			lg.Error("panic while screening document", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			v.Verdict = domain.VerdictExtractionFailed
			v.Reason = fmt.Sprintf("internal error: %v", r)
		}
		v.Duration = time.Since(start)
		observability.FinishDocument(string(v.Verdict), v.Duration)
		span.SetAttributes(attribute.String("document.verdict", string(v.Verdict)))
		if v.Verdict == domain.VerdictExtractionFailed {
			span.SetStatus(codes.Error, v.Reason)
		}
		span.End()
		lg.Info("document screened",
			slog.String("verdict", string(v.Verdict)),
			slog.String("reason", v.Reason),
			slog.String("strategy", v.Strategy),
			slog.Duration("elapsed", v.Duration))
	}()
	span.SetAttributes(attribute.String("document.filename", d.Filename))

	fail := func(stage string, err error) domain.DocumentVerdict {
		span.RecordError(err)
		lg.Warn("document failed", slog.String("stage", stage), slog.Any("error", err))
		v.Verdict = domain.VerdictExtractionFailed
		v.Reason = stage + ": " + err.Error()
		return v
	}

	ext, err := s.Extractor.Extract(ctx, d.Path)
	if err != nil {
		return fail("extract", err)
	}
	v.Strategy = ext.Strategy
	text := textx.Normalize(ext.Text)

	if cond := strings.TrimSpace(req.Condition); cond != "" {
		out, err := s.complete(ctx, model, domain.OpCondition, s.Prompts.BuildCondition(model, text, cond))
		if err != nil {
			return fail("condition", err)
		}
		if !screening.InterpretCondition(out) {
			v.Verdict = domain.VerdictRejectedCondition
			v.Reason = "condition not met"
			return v
		}
	}

	if len(req.Criteria) > 0 {
		out, err := s.complete(ctx, model, domain.OpExtraction, s.Prompts.BuildExtraction(model, text, req.Criteria.Keys()))
		if err != nil {
			return fail("criteria extraction", err)
		}
		extracted, err := screening.InterpretExtraction(out)
		if err != nil {
			return fail("criteria extraction", err)
		}
		if key, ok := screening.MatchDetail(extracted, req.Criteria); !ok {
			v.Verdict = domain.VerdictRejectedCriteria
			v.Reason = "criterion not satisfied: " + key
			return v
		}
	}

	v.Verdict = domain.VerdictMatched
	return v
}

func (s *ScreenService) complete(ctx context.Context, model, op, prompt string) (string, error) {
	if s.Tokens != nil {
		observability.ObservePromptTokens(op, s.Tokens.Estimate(prompt, model))
	}
	return s.Gateway.Complete(ctx, domain.CompletionRequest{
		Model:     model,
		Prompt:    prompt,
		Options:   s.Cfg.Sampling,
		Operation: op,
	})
}

// scheduleCleanup stamps the batch directory as done and hands the working
// files and the directory to the scheduler, or to Fallback when that fails.
// It is detached from ctx cancellation and never fails the batch.
func (s *ScreenService) scheduleCleanup(ctx context.Context, batchID string, docs []domain.Document) {
	lg := obsctx.LoggerFromContext(ctx)
	dir := filepath.Join(s.Cfg.WorkDir, batchID)
	if err := os.WriteFile(filepath.Join(dir, domain.BatchDoneMarker), nil, 0o600); err != nil {
		lg.Warn("stamp batch done failed", slog.String("dir", dir), slog.Any("error", err))
	}
	if s.Cleanup == nil {
		return
	}
	paths := make([]string, 0, len(docs)+1)
	for _, d := range docs {
		paths = append(paths, d.Path)
	}
	paths = append(paths, dir)

	backend := s.Cfg.CleanupBackend
	if backend == "" {
		backend = "timer"
	}
	detached := context.WithoutCancel(ctx)
	if err := s.Cleanup.Schedule(detached, paths, s.Cfg.CleanupDelay); err != nil {
		if s.Fallback == nil {
			lg.Error("schedule cleanup failed", slog.Int("paths", len(paths)), slog.Any("error", err))
			return
		}
		lg.Warn("schedule cleanup failed, using fallback", slog.Int("paths", len(paths)), slog.Any("error", err))
		if err := s.Fallback.Schedule(detached, paths, s.Cfg.CleanupDelay); err != nil {
			lg.Error("fallback cleanup failed", slog.Int("paths", len(paths)), slog.Any("error", err))
			return
		}
		backend = "timer"
	}
	observability.ScheduleCleanup(backend, len(paths))
}

func (s *ScreenService) record(ctx context.Context, out domain.BatchResult) {
	lg := obsctx.LoggerFromContext(ctx)
	bg := context.WithoutCancel(ctx)
	if s.Store != nil {
		if err := s.Store.SaveBatch(bg, out); err != nil {
			lg.Warn("save batch verdicts failed", slog.Any("error", err))
		}
	}
	if s.Events != nil {
		if err := s.Events.PublishBatch(bg, out); err != nil {
			lg.Warn("publish batch event failed", slog.Any("error", err))
		}
	}
}

// Batch returns a recorded batch result.
func (s *ScreenService) Batch(ctx domain.Context, batchID string) (domain.BatchResult, error) {
	if s.Store == nil {
		return domain.BatchResult{}, fmt.Errorf("%w: verdict store disabled", domain.ErrNotFound)
	}
	b, err := s.Store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.BatchResult{}, err
		}
		return domain.BatchResult{}, fmt.Errorf("op=screen.Batch: %w", err)
	}
	return b, nil
}
