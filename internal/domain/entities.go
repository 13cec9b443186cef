package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrInsufficientContent = errors.New("insufficient content")
	ErrParseFailed         = errors.New("parse failed")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Context is an alias used by ports to keep signatures short.
type Context = context.Context

// Document is one uploaded PDF and the working file backing it.
type Document struct {
	Filename string
	Path     string
}

// UploadFile is an inbound (filename, payload) pair.
type UploadFile struct {
	Filename string
	Content  []byte
}

// Criteria maps lower-cased field names to lower-cased expected values.
// An empty Criteria means no structured check.
type Criteria map[string]string

// NewCriteria lower-cases keys and values. Keys colliding after lower-casing
// with different values are rejected.
func NewCriteria(raw map[string]string) (Criteria, error) {
	c := make(Criteria, len(raw))
	for k, v := range raw {
		lk := strings.ToLower(strings.TrimSpace(k))
		if lk == "" {
			return nil, fmt.Errorf("%w: empty criteria key", ErrInvalidArgument)
		}
		lv := strings.ToLower(strings.TrimSpace(v))
		if prev, ok := c[lk]; ok && prev != lv {
			return nil, fmt.Errorf("%w: duplicate criteria key %q", ErrInvalidArgument, lk)
		}
		c[lk] = lv
	}
	return c, nil
}

// Keys returns the criteria keys in sorted order.
func (c Criteria) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExtractionResult maps field names to values produced by the LLM for one document.
type ExtractionResult map[string]string

// ExtractedText is the output of the extraction chain.
type ExtractedText struct {
	Text     string
	Strategy string
}

// Verdict is the terminal per-document outcome of the pipeline.
type Verdict string

const (
	VerdictMatched           Verdict = "matched"
	VerdictRejectedCondition Verdict = "rejected_condition"
	VerdictRejectedCriteria  Verdict = "rejected_criteria"
	VerdictExtractionFailed  Verdict = "extraction_failed"
)

// DocumentVerdict records how one document resolved.
type DocumentVerdict struct {
	Filename string        `json:"filename"`
	Verdict  Verdict       `json:"verdict"`
	Reason   string        `json:"reason,omitempty"`
	Strategy string        `json:"strategy,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Match is a matched document and its retrieval reference.
type Match struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// BatchRequest is a batch submission.
type BatchRequest struct {
	Files     []UploadFile
	Criteria  Criteria
	Condition string
	Model     string
}

// BatchResult aggregates the verdicts of one batch.
// Invariants: ProcessedFiles == len(Verdicts); MatchedFiles == len(Matches).
type BatchResult struct {
	BatchID        string            `json:"batch_id"`
	Model          string            `json:"model"`
	Matches        []Match           `json:"matches"`
	ProcessedFiles int               `json:"processed_files"`
	MatchedFiles   int               `json:"matched_files"`
	Verdicts       []DocumentVerdict `json:"verdicts"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

// CountByVerdict tallies verdicts for diagnostics.
func (b BatchResult) CountByVerdict() map[Verdict]int {
	out := make(map[Verdict]int, 4)
	for _, v := range b.Verdicts {
		out[v.Verdict]++
	}
	return out
}

// SamplingOptions tune the inference call.
type SamplingOptions struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	TopK        int
}

// Prompt operations, used as metric and span labels.
const (
	OpCondition  = "condition"
	OpExtraction = "extraction"
)

// CompletionRequest is one prompt sent to an inference backend.
type CompletionRequest struct {
	Model     string
	Prompt    string
	Options   SamplingOptions
	Operation string
}

// TextExtractor (port) converts a PDF on disk into text.
type TextExtractor interface {
	Extract(ctx Context, path string) (ExtractedText, error)
}

// ExtractionStrategy is one method in the extraction fallback chain.
// Extract returns the raw text it found; the chain judges sufficiency against MinChars.
type ExtractionStrategy interface {
	Name() string
	MinChars() int
	Extract(ctx Context, path string) (string, error)
}

// Gateway (port) sends a prompt to an inference backend and returns raw completion text.
// Implementations never retry.
type Gateway interface {
	Complete(ctx Context, req CompletionRequest) (string, error)
}

// ModelLister (port) reports models available on an inference backend.
type ModelLister interface {
	ListModels(ctx Context) ([]string, error)
}

// BatchDoneMarker is the file written into a batch directory once its
// verdicts are final. Its mtime is the batch completion time.
const BatchDoneMarker = ".batch-done"

// CleanupScheduler (port) deletes working files after a delay, off the request path.
type CleanupScheduler interface {
	Schedule(ctx Context, paths []string, delay time.Duration) error
}

// VerdictStore (port) records batch outcomes for diagnostics.
type VerdictStore interface {
	SaveBatch(ctx Context, b BatchResult) error
	GetBatch(ctx Context, batchID string) (BatchResult, error)
}

// EventPublisher (port) announces completed batches.
type EventPublisher interface {
	PublishBatch(ctx Context, b BatchResult) error
}
