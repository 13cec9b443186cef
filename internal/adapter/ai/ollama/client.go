// Package ollama implements domain.Gateway and domain.ModelLister against a
// local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/fairyhunter13/biodata-screener/internal/adapter/observability"
	"github.com/fairyhunter13/biodata-screener/internal/domain"
	obsctx "github.com/fairyhunter13/biodata-screener/internal/observability"
)

const (
	provider      = "ollama"
	defaultURL    = "http://localhost:11434"
	pingTimeout   = 5 * time.Second
	snippetLength = 256
)

// Client talks to the Ollama HTTP API.
type Client struct {
	baseURL string
	hc      *http.Client
	limiter *rate.Limiter
}

// Option customises a Client.
type Option func(*Client)

// WithMaxRPS paces Complete calls from this process; rps <= 0 disables pacing.
func WithMaxRPS(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(math.Ceil(rps))
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// New constructs a client; timeout bounds each generate call.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the provider label.
func (c *Client) Name() string { return provider }

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Complete runs one non-streaming generate call. It never retries.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	tracer := otel.Tracer("ai.ollama")
	ctx, span := tracer.Start(ctx, "ollama.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("ai.provider", provider),
		attribute.String("ai.model", req.Model),
		attribute.String("ai.operation", req.Operation),
		attribute.Int("ai.prompt_chars", len(req.Prompt)),
	)
	lg := obsctx.LoggerFromContext(ctx)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			span.SetStatus(codes.Error, "pacing")
			return "", c.fail(req.Operation, fmt.Errorf("%w: waiting for rate limiter: %v", domain.ErrUpstreamTimeout, err))
		}
	}

	body, err := json.Marshal(generateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: req.Options.Temperature,
			NumPredict:  req.Options.MaxTokens,
			TopP:        req.Options.TopP,
			TopK:        req.Options.TopK,
		},
	})
	if err != nil {
		return "", fmt.Errorf("op=ollama.Complete: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("op=ollama.Complete: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(httpReq)
	observability.ObserveAIRequest(provider, req.Operation, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		lg.Warn("ollama request failed", slog.String("model", req.Model), slog.String("op", req.Operation), slog.Any("error", err))
		return "", c.fail(req.Operation, classify(err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		span.SetStatus(codes.Error, "read body")
		return "", c.fail(req.Operation, classify(err))
	}
	if resp.StatusCode != http.StatusOK {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		span.SetStatus(codes.Error, "non-200")
		lg.Warn("ollama non-200",
			slog.String("model", req.Model),
			slog.String("op", req.Operation),
			slog.Int("status", resp.StatusCode),
			slog.String("body", snippet(raw)))
		return "", c.fail(req.Operation, fmt.Errorf("%w: ollama status %d: %s", domain.ErrUpstreamUnavailable, resp.StatusCode, errorMessage(raw)))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		span.SetStatus(codes.Error, "decode")
		return "", c.fail(req.Operation, fmt.Errorf("%w: decode ollama response: %v", domain.ErrUpstreamUnavailable, err))
	}
	if out.Error != "" {
		span.SetStatus(codes.Error, "ollama error")
		return "", c.fail(req.Operation, fmt.Errorf("%w: ollama: %s", domain.ErrUpstreamUnavailable, out.Error))
	}
	lg.Debug("ollama completion",
		slog.String("model", req.Model),
		slog.String("op", req.Operation),
		slog.Int("chars", len(out.Response)),
		slog.Duration("elapsed", time.Since(start)))
	return out.Response, nil
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// ListModels returns the sorted model names from GET /api/tags.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("op=ollama.ListModels: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=ollama.ListModels: %w", classify(err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("op=ollama.ListModels: %w: status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("op=ollama.ListModels: %w: %v", domain.ErrUpstreamUnavailable, err)
	}
	out := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Ping reports whether the server answers /api/tags within five seconds.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

func (c *Client) fail(op string, err error) error {
	kind := "unavailable"
	if errors.Is(err, domain.ErrUpstreamTimeout) {
		kind = "timeout"
	}
	observability.FailAIRequest(provider, op, kind)
	return fmt.Errorf("op=ollama.Complete: %w", err)
}

// classify maps transport errors onto the domain sentinels.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
}

func errorMessage(raw []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return snippet(raw)
}

func snippet(b []byte) string {
	if len(b) > snippetLength {
		b = b[:snippetLength]
	}
	return strings.TrimSpace(string(b))
}
