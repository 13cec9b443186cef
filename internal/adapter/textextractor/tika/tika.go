// Package tika provides Apache Tika integration for text extraction.
//
// It is the generic loader in the extraction chain: a plain-text pass first,
// then an OCR-only pass for scanned layouts when the first pass comes back
// too short.
package tika

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/biodata-screener/internal/observability"
	"github.com/fairyhunter13/biodata-screener/pkg/textx"
)

// MinChars is the content threshold for this strategy.
const MinChars = 100

// Client is a minimal Apache Tika HTTP client implementing domain.ExtractionStrategy.
// It performs PUT /tika with Accept: text/plain to retrieve extracted text.
// See: https://tika.apache.org/server/ for API details.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	maxElapsed      time.Duration
	initialInterval time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithRetry sets the retry budget for 5xx and transport failures.
func WithRetry(maxElapsed, initialInterval time.Duration) Option {
	return func(c *Client) {
		c.maxElapsed = maxElapsed
		c.initialInterval = initialInterval
	}
}

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New constructs a Tika client with a default timeout.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxElapsed:      20 * time.Second,
		initialInterval: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the strategy label used in logs and verdicts.
func (c *Client) Name() string { return "tika" }

// MinChars returns the minimum stripped length for a usable result.
func (c *Client) MinChars() int { return MinChars }

// Extract uploads the file at path and returns plain text. A short generic
// result is retried once with the OCR-only PDF strategy.
func (c *Client) Extract(ctx context.Context, path string) (string, error) {
	// #nosec G304 -- path is a working file created by the orchestrator
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("op=tika.extract: %w", err)
	}
	text, err := c.put(ctx, b, nil)
	if err != nil {
		return "", err
	}
	if textx.ContentLength(text) > MinChars {
		return text, nil
	}
	observability.LoggerFromContext(ctx).Debug("tika generic pass too short; retrying with ocr",
		slog.Int("chars", textx.ContentLength(text)))
	ocr, err := c.put(ctx, b, map[string]string{"X-Tika-PDFOcrStrategy": "ocr_only"})
	if err != nil {
		// keep whatever the generic pass produced; the chain judges sufficiency
		return text, nil
	}
	if textx.ContentLength(ocr) > textx.ContentLength(text) {
		return ocr, nil
	}
	return text, nil
}

func (c *Client) put(ctx context.Context, body []byte, headers map[string]string) (string, error) {
	var result string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint()+"/tika", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "text/plain")
		req.Header.Set("Content-Type", "application/pdf")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("tika status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("tika status %d", resp.StatusCode)
		}
		out, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		result = textx.SanitizeText(string(out))
		return nil
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.initialInterval
	expo.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return "", fmt.Errorf("op=tika.extract: %w", err)
	}
	return result, nil
}

// Ping checks the server via GET /version.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint()+"/version", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("tika status %d", resp.StatusCode)
}

func (c *Client) endpoint() string {
	if c.baseURL == "" {
		return "http://localhost:9998"
	}
	return c.baseURL
}
