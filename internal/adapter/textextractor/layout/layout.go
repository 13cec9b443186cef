// Package layout extracts PDF text from positioned text fragments.
//
// Fragments are grouped into rows by their baseline so that tabular biodata
// ("Name      Mr X") keeps each label next to its value. Pages whose rows yield
// nothing fall back to the page's plain text stream.
package layout

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/fairyhunter13/biodata-screener/pkg/textx"
)

// MinChars is the content threshold for this strategy.
const MinChars = 100

// Strategy implements domain.ExtractionStrategy using ledongthuc/pdf.
type Strategy struct{}

// New constructs a layout Strategy.
func New() *Strategy { return &Strategy{} }

// Name returns the strategy label used in logs and verdicts.
func (s *Strategy) Name() string { return "layout" }

// MinChars returns the minimum stripped length for a usable result.
func (s *Strategy) MinChars() int { return MinChars }

// Extract reads every page and joins them with textx.PageMarker.
func (s *Strategy) Extract(ctx context.Context, path string) (text string, err error) {
	// the parser panics on some malformed files
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("op=layout.extract: malformed pdf: %v", rec)
		}
	}()
	f, err := os.Open(path) // #nosec G304 -- path is a working file created by the orchestrator
	if err != nil {
		return "", fmt.Errorf("op=layout.extract: %w", err)
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("op=layout.extract: %w", err)
	}
	r, err := pdf.NewReader(f, st.Size())
	if err != nil {
		return "", fmt.Errorf("op=layout.extract: %w", err)
	}

	n := r.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pages = append(pages, pageText(p))
	}
	return textx.SanitizeText(textx.JoinPages(pages)), nil
}

func pageText(p pdf.Page) string {
	if rows, err := p.GetTextByRow(); err == nil {
		if t := rowsText(rows); strings.TrimSpace(t) != "" {
			return t
		}
	}
	plain, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return plain
}

func rowsText(rows pdf.Rows) string {
	var b strings.Builder
	for _, row := range rows {
		parts := make([]string, 0, len(row.Content))
		for _, frag := range row.Content {
			if s := strings.TrimSpace(frag.S); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			continue
		}
		b.WriteString(strings.Join(parts, " "))
		b.WriteByte('\n')
	}
	return b.String()
}
