// Package report renders batch verdicts as XLSX workbooks.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

const (
	verdictSheet = "Verdicts"
	summarySheet = "Summary"
)

var verdictHeaders = []string{"Filename", "Verdict", "Reason", "Extraction", "Duration (s)", "Download"}

// WriteXLSX writes a two-sheet workbook for b: one row per document and a
// summary of counts. baseURL prefixes match links; it may be empty.
func WriteXLSX(w io.Writer, b domain.BatchResult, baseURL string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", verdictSheet); err != nil {
		return fmt.Errorf("op=report.WriteXLSX: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("op=report.WriteXLSX: %w", err)
	}

	for i, h := range verdictHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(verdictSheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(verdictSheet, 1, 1, style)
	}

	urls := make(map[string]string, len(b.Matches))
	for _, m := range b.Matches {
		urls[m.Filename] = baseURL + m.URL
	}
	rows := append([]domain.DocumentVerdict(nil), b.Verdicts...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Filename < rows[j].Filename })

	for i, v := range rows {
		row := i + 2
		write := func(col int, val any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(verdictSheet, cell, val)
		}
		write(1, v.Filename)
		write(2, string(v.Verdict))
		write(3, v.Reason)
		write(4, v.Strategy)
		write(5, v.Duration.Seconds())
		if u := urls[v.Filename]; u != "" {
			write(6, u)
			cell, _ := excelize.CoordinatesToCellName(6, row)
			_ = f.SetCellHyperLink(verdictSheet, cell, u, "External")
		}
	}
	_ = f.SetColWidth(verdictSheet, "A", "A", 32)
	_ = f.SetColWidth(verdictSheet, "B", "B", 20)
	_ = f.SetColWidth(verdictSheet, "C", "C", 48)
	_ = f.SetColWidth(verdictSheet, "D", "E", 12)
	_ = f.SetColWidth(verdictSheet, "F", "F", 60)
	_ = f.AutoFilter(verdictSheet, fmt.Sprintf("A1:F%d", len(rows)+1), nil)

	counts := b.CountByVerdict()
	summary := [][2]any{
		{"Batch", b.BatchID},
		{"Model", b.Model},
		{"Created", b.CreatedAt.UTC().Format("2006-01-02 15:04:05Z")},
		{"Files expire", b.ExpiresAt.UTC().Format("2006-01-02 15:04:05Z")},
		{"Processed", b.ProcessedFiles},
		{"Matched", b.MatchedFiles},
		{"Rejected (condition)", counts[domain.VerdictRejectedCondition]},
		{"Rejected (criteria)", counts[domain.VerdictRejectedCriteria]},
		{"Extraction failed", counts[domain.VerdictExtractionFailed]},
	}
	for i, kv := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 22)
	_ = f.SetColWidth(summarySheet, "B", "B", 32)

	if idx, err := f.GetSheetIndex(verdictSheet); err == nil {
		f.SetActiveSheet(idx)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("op=report.WriteXLSX: %w", err)
	}
	return nil
}
