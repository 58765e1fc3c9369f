// Package export writes the review dashboard to an XLSX workbook.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"loandocs/internal/review"
)

const (
	SheetSummary        = "Summary"
	SheetClassification = "Classification"
	SheetExtraction     = "Extraction"
	SheetConfidence     = "Confidence"
	SheetDocuments      = "Documents"
	SheetCorrections    = "Corrections"
)

// Workbook builds the dashboard workbook. The caller closes it.
func Workbook(d review.Dashboard, docs []review.Document) (*excelize.File, error) {
	wb := excelize.NewFile()
	if err := wb.SetSheetName("Sheet1", SheetSummary); err != nil {
		_ = wb.Close()
		return nil, err
	}
	for _, name := range []string{SheetClassification, SheetExtraction, SheetConfidence, SheetDocuments, SheetCorrections} {
		if _, err := wb.NewSheet(name); err != nil {
			_ = wb.Close()
			return nil, fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	steps := []func(*excelize.File, review.Dashboard, []review.Document) error{
		writeSummary,
		writeClassification,
		writeExtraction,
		writeConfidence,
		writeDocuments,
		writeCorrections,
	}
	for _, step := range steps {
		if err := step(wb, d, docs); err != nil {
			_ = wb.Close()
			return nil, err
		}
	}
	return wb, nil
}

// Write streams the workbook to w.
func Write(w io.Writer, d review.Dashboard, docs []review.Document) error {
	wb, err := Workbook(d, docs)
	if err != nil {
		return err
	}
	defer wb.Close()
	if _, err := wb.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// WriteFile saves the workbook under dir, named after the dashboard time, and
// returns its path.
func WriteFile(dir string, d review.Dashboard, docs []review.Document) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export dir: %w", err)
	}
	wb, err := Workbook(d, docs)
	if err != nil {
		return "", err
	}
	defer wb.Close()
	path := filepath.Join(dir, FileName(d))
	if err := wb.SaveAs(path); err != nil {
		return "", fmt.Errorf("saving workbook: %w", err)
	}
	return path, nil
}

func FileName(d review.Dashboard) string {
	return fmt.Sprintf("dashboard-%s.xlsx", d.GeneratedAt.UTC().Format("20060102-150405"))
}

func setRow(wb *excelize.File, sheet string, row int, values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := wb.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

func writeSummary(wb *excelize.File, d review.Dashboard, _ []review.Document) error {
	rows := [][]any{
		{"Metric", "Value"},
		{"Generated at", d.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"Classification accuracy", d.Classification.Accuracy},
		{"Classification precision", d.Classification.Precision},
		{"Classification recall", d.Classification.Recall},
		{"Extraction macro F1", d.MacroF1},
	}
	if d.Ops != nil {
		rows = append(rows,
			[]any{"Documents", d.Ops.TotalDocs},
			[]any{"P50 latency (s)", d.Ops.P50Latency},
			[]any{"P95 latency (s)", d.Ops.P95Latency},
			[]any{"Cost per document (USD)", d.Ops.CostPerDoc},
			[]any{"Total cost (USD)", d.Ops.TotalCost},
			[]any{"Auto-approve rate", d.Ops.AutoApproveRate},
			[]any{"Human review rate", d.Ops.HumanReviewRate},
		)
	}
	for i, r := range rows {
		if err := setRow(wb, SheetSummary, i+1, r...); err != nil {
			return err
		}
	}
	return nil
}

// writeClassification writes the confusion matrix: rows are true labels,
// columns predicted labels.
func writeClassification(wb *excelize.File, d review.Dashboard, _ []review.Document) error {
	header := []any{"actual \\ predicted"}
	for _, l := range d.Classification.Labels {
		header = append(header, l)
	}
	if err := setRow(wb, SheetClassification, 1, header...); err != nil {
		return err
	}
	for i, l := range d.Classification.Labels {
		row := []any{l}
		for _, n := range d.Classification.ConfusionMatrix[i] {
			row = append(row, n)
		}
		if err := setRow(wb, SheetClassification, i+2, row...); err != nil {
			return err
		}
	}
	return nil
}

func writeExtraction(wb *excelize.File, d review.Dashboard, _ []review.Document) error {
	if err := setRow(wb, SheetExtraction, 1, "Field", "Exact match rate", "Token F1", "Samples"); err != nil {
		return err
	}
	for i, f := range d.Extraction {
		if err := setRow(wb, SheetExtraction, i+2, f.FieldName, f.ExactMatchRate, f.TokenF1Score, f.Samples); err != nil {
			return err
		}
	}
	return nil
}

func writeConfidence(wb *excelize.File, d review.Dashboard, _ []review.Document) error {
	if err := setRow(wb, SheetConfidence, 1, "Document type", "<50%", "50-70%", "70-90%", ">=90%", "Mean"); err != nil {
		return err
	}
	for i, b := range d.Confidence {
		if err := setRow(wb, SheetConfidence, i+2, b.DocumentType, b.Below50, b.From50To70, b.From70To90, b.From90, b.Mean); err != nil {
			return err
		}
	}
	return nil
}

func writeDocuments(wb *excelize.File, _ review.Dashboard, docs []review.Document) error {
	if err := setRow(wb, SheetDocuments, 1, "ID", "Source", "Type", "Confidence", "Threshold", "Status", "Reviewed", "Corrections", "Latency (s)", "Cost (USD)"); err != nil {
		return err
	}
	for i, doc := range docs {
		if err := setRow(wb, SheetDocuments, i+2,
			doc.ID, doc.Source, string(doc.Classification.DocumentType), doc.OriginalConfidence,
			doc.Threshold, doc.Status, doc.Reviewed, doc.Corrections, doc.LatencySeconds, doc.CostUSD,
		); err != nil {
			return err
		}
	}
	return nil
}

func writeCorrections(wb *excelize.File, d review.Dashboard, _ []review.Document) error {
	if err := setRow(wb, SheetCorrections, 1, "Document type", "Field", "Corrections"); err != nil {
		return err
	}
	for i, c := range d.Corrections {
		if err := setRow(wb, SheetCorrections, i+2, string(c.DocumentType), c.FieldName, c.CorrectionCount); err != nil {
			return err
		}
	}
	return nil
}
