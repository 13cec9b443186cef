package textextractor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/biodata-screener/internal/adapter/textextractor"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/textextractor/basic"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/textextractor/layout"
	"github.com/fairyhunter13/biodata-screener/internal/adapter/textextractor/pdftest"
	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

type fakeStrategy struct {
	name  string
	min   int
	text  string
	err   error
	calls int
}

func (f *fakeStrategy) Name() string  { return f.name }
func (f *fakeStrategy) MinChars() int { return f.min }
func (f *fakeStrategy) Extract(context.Context, string) (string, error) {
	f.calls++
	return f.text, f.err
}

func samplePDF(t *testing.T) string {
	return pdftest.Write(t, t.TempDir(), "bio.pdf", []string{"Name: X"})
}

func TestChain_FirstSufficientWins(t *testing.T) {
	first := &fakeStrategy{name: "layout", min: 100, text: "short"}
	second := &fakeStrategy{name: "tika", min: 100, text: strings.Repeat("a", 101)}
	third := &fakeStrategy{name: "basic", min: 50, text: strings.Repeat("b", 60)}

	got, err := textextractor.NewChain(first, second, third).Extract(context.Background(), samplePDF(t))
	require.NoError(t, err)
	assert.Equal(t, "tika", got.Strategy)
	assert.Len(t, got.Text, 101)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, third.calls)
}

func TestChain_ThresholdIsStrict(t *testing.T) {
	exact := &fakeStrategy{name: "layout", min: 100, text: strings.Repeat("a", 100)}
	_, err := textextractor.NewChain(exact).Extract(context.Background(), samplePDF(t))
	require.ErrorIs(t, err, domain.ErrExtractionFailed)
	require.ErrorIs(t, err, domain.ErrInsufficientContent)
}

func TestChain_ErrorFallsThrough(t *testing.T) {
	broken := &fakeStrategy{name: "tika", min: 100, err: errors.New("connection refused")}
	ok := &fakeStrategy{name: "basic", min: 50, text: strings.Repeat("c", 51)}
	got, err := textextractor.NewChain(broken, ok).Extract(context.Background(), samplePDF(t))
	require.NoError(t, err)
	assert.Equal(t, "basic", got.Strategy)
}

func TestChain_AllFail(t *testing.T) {
	a := &fakeStrategy{name: "layout", min: 100, err: errors.New("boom")}
	b := &fakeStrategy{name: "basic", min: 50, text: "   "}
	_, err := textextractor.NewChain(a, b).Extract(context.Background(), samplePDF(t))
	require.ErrorIs(t, err, domain.ErrExtractionFailed)
	assert.Contains(t, err.Error(), "layout")
	assert.Contains(t, err.Error(), "boom")

	_, err = textextractor.NewChain().Extract(context.Background(), samplePDF(t))
	require.ErrorIs(t, err, domain.ErrExtractionFailed)
}

func TestChain_RejectsNonPDF(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bio.pdf")
	require.NoError(t, os.WriteFile(p, []byte("just some plain text"), 0o600))
	s := &fakeStrategy{name: "layout", min: 1, text: strings.Repeat("a", 10)}

	_, err := textextractor.NewChain(s).Extract(context.Background(), p)
	require.ErrorIs(t, err, domain.ErrExtractionFailed)
	assert.Equal(t, 0, s.calls)
}

func TestChain_MissingFile(t *testing.T) {
	_, err := textextractor.NewChain().Extract(context.Background(), filepath.Join(t.TempDir(), "none.pdf"))
	require.ErrorIs(t, err, domain.ErrExtractionFailed)
}

func TestChain_RealStrategies(t *testing.T) {
	lines := []string{
		"Name: Mr Suresh Kumar",
		"Department: Mechanical Engineering",
		"Designation: Senior Engineer",
		"Date of Birth: 12/05/1970",
		"Educational Qualifications: B.Tech",
	}
	p := pdftest.Write(t, t.TempDir(), "bio.pdf", lines)
	chain := textextractor.NewChain(layout.New(), basic.New())
	assert.Equal(t, []string{"layout", "basic"}, chain.Strategies())

	got, err := chain.Extract(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "layout", got.Strategy)
	assert.Contains(t, got.Text, "Suresh Kumar")
}

func TestChain_ScannedPDFFails(t *testing.T) {
	p := pdftest.Write(t, t.TempDir(), "scan.pdf", nil)
	_, err := textextractor.NewChain(layout.New(), basic.New()).Extract(context.Background(), p)
	require.ErrorIs(t, err, domain.ErrExtractionFailed)
}
