// Package gemini implements domain.Gateway on the Google Gemini API for
// model ids that start with "gemini".
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"

	"github.com/fairyhunter13/biodata-screener/internal/adapter/observability"
	"github.com/fairyhunter13/biodata-screener/internal/domain"
	obsctx "github.com/fairyhunter13/biodata-screener/internal/observability"
)

const provider = "gemini"

// Client wraps the GenAI SDK client.
type Client struct {
	client  *genai.Client
	timeout time.Duration
}

// Config holds the settings needed to reach the Gemini API.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// New creates a client for the Gemini API backend.
func New(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", domain.ErrInvalidArgument)
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("op=gemini.New: %w", err)
	}
	return &Client{client: client, timeout: cfg.Timeout}, nil
}

// Name returns the provider label.
func (c *Client) Name() string { return provider }

// Complete sends one prompt and joins the text parts of the candidates.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	tracer := otel.Tracer("ai.gemini")
	ctx, span := tracer.Start(ctx, "gemini.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("ai.provider", provider),
		attribute.String("ai.model", req.Model),
		attribute.String("ai.operation", req.Operation),
	)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), generateConfig(req.Options))
	observability.ObserveAIRequest(provider, req.Operation, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate")
		obsctx.LoggerFromContext(ctx).Warn("gemini request failed",
			slog.String("model", req.Model),
			slog.String("op", req.Operation),
			slog.Any("error", err))
		return "", c.fail(req.Operation, classify(err))
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(part.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		span.SetStatus(codes.Error, "empty")
		return "", c.fail(req.Operation, fmt.Errorf("%w: gemini returned an empty response", domain.ErrUpstreamUnavailable))
	}
	return out, nil
}

func generateConfig(o domain.SamplingOptions) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(o.Temperature)),
	}
	if o.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(o.TopP))
	}
	if o.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(o.TopK))
	}
	if o.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(o.MaxTokens) // #nosec G115 -- bounded by config
	}
	return cfg
}

func (c *Client) fail(op string, err error) error {
	kind := "unavailable"
	if errors.Is(err, domain.ErrUpstreamTimeout) {
		kind = "timeout"
	}
	observability.FailAIRequest(provider, op, kind)
	return fmt.Errorf("op=gemini.Complete: %w", err)
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
}
