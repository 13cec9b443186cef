// Package textextractor turns an uploaded PDF into raw text by trying a
// fixed sequence of strategies until one yields enough content.
package textextractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	obsadapter "github.com/fairyhunter13/biodata-screener/internal/adapter/observability"
	"github.com/fairyhunter13/biodata-screener/internal/domain"
	"github.com/fairyhunter13/biodata-screener/internal/observability"
	"github.com/fairyhunter13/biodata-screener/pkg/textx"
)

const pdfMIME = "application/pdf"

// Chain implements domain.TextExtractor over ordered strategies.
type Chain struct {
	strategies []domain.ExtractionStrategy
}

// NewChain builds a chain; strategies run in the order given.
func NewChain(strategies ...domain.ExtractionStrategy) *Chain {
	return &Chain{strategies: strategies}
}

// Strategies returns the strategy names in order.
func (c *Chain) Strategies() []string {
	out := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		out = append(out, s.Name())
	}
	return out
}

// Extract returns the first strategy result whose stripped length exceeds
// that strategy's threshold.
func (c *Chain) Extract(ctx context.Context, path string) (domain.ExtractedText, error) {
	tracer := otel.Tracer("textextractor")
	ctx, span := tracer.Start(ctx, "textextractor.Extract")
	defer span.End()
	lg := observability.LoggerFromContext(ctx)

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		span.SetStatus(codes.Error, "read failed")
		return domain.ExtractedText{}, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	if !mt.Is(pdfMIME) {
		span.SetStatus(codes.Error, "not a pdf")
		return domain.ExtractedText{}, fmt.Errorf("%w: unsupported content type %s", domain.ErrExtractionFailed, mt.String())
	}

	var errs []error
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return domain.ExtractedText{}, err
		}
		text, err := s.Extract(ctx, path)
		if err != nil {
			obsadapter.RecordExtraction(s.Name(), "error")
			lg.Warn("extraction strategy failed", slog.String("strategy", s.Name()), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n := textx.ContentLength(text)
		if n <= s.MinChars() {
			obsadapter.RecordExtraction(s.Name(), "insufficient")
			lg.Debug("extraction strategy insufficient", slog.String("strategy", s.Name()), slog.Int("chars", n))
			errs = append(errs, fmt.Errorf("%s: %w (%d chars)", s.Name(), domain.ErrInsufficientContent, n))
			continue
		}
		obsadapter.RecordExtraction(s.Name(), "success")
		span.SetAttributes(attribute.String("extraction.strategy", s.Name()), attribute.Int("extraction.chars", n))
		return domain.ExtractedText{Text: text, Strategy: s.Name()}, nil
	}
	span.SetStatus(codes.Error, "all strategies exhausted")
	if len(errs) == 0 {
		return domain.ExtractedText{}, fmt.Errorf("%w: no strategies configured", domain.ErrExtractionFailed)
	}
	return domain.ExtractedText{}, fmt.Errorf("%w: %w", domain.ErrExtractionFailed, errors.Join(errs...))
}
