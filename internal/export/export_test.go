package export

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"loandocs/internal/domain"
	"loandocs/internal/review"
)

func sampleDashboard() review.Dashboard {
	batch := domain.ReviewBatch{
		Classifications: []domain.ClassificationReview{
			{Predicted: domain.W9Form, Actual: domain.W9Form},
			{Predicted: domain.W9Form, Actual: domain.BankStatement},
		},
		Extractions: []domain.ExtractionReview{
			{
				DocumentType: domain.W9Form,
				Predicted:    map[string]string{"legal_name": "Acme LLC"},
				Corrected:    map[string]string{"legal_name": "Acme LLC"},
			},
		},
		Ops: []domain.OpsSample{
			{LatencySeconds: 2, CostUSD: 0.01, Status: domain.StatusAutoApproved},
			{LatencySeconds: 4, CostUSD: 0.03, Status: domain.StatusNeedsReview},
		},
		Confidences: []domain.ConfidenceSample{
			{DocumentType: domain.W9Form, Confidence: 0.95},
			{DocumentType: domain.W9Form, Confidence: 0.40},
		},
	}
	d := review.BuildDashboard(batch, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	d.Corrections = []domain.CorrectionStat{{DocumentType: domain.W9Form, FieldName: "ein_or_ssn", CorrectionCount: 3}}
	return d
}

func cell(t *testing.T, wb *excelize.File, sheet, axis string) string {
	t.Helper()
	v, err := wb.GetCellValue(sheet, axis)
	if err != nil {
		t.Fatalf("read %s!%s: %v", sheet, axis, err)
	}
	return v
}

func TestWrite(t *testing.T) {
	docs := []review.Document{{
		ID:                 "doc-1",
		Source:             "w9.pdf",
		Classification:     domain.ClassificationResult{DocumentType: domain.W9Form, Confidence: 0.95},
		OriginalConfidence: 0.95,
		Threshold:          0.85,
		Status:             domain.StatusAutoApproved,
		Reviewed:           true,
	}}

	var buf bytes.Buffer
	if err := Write(&buf, sampleDashboard(), docs); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	wb, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	t.Cleanup(func() { _ = wb.Close() })

	want := []string{SheetSummary, SheetClassification, SheetExtraction, SheetConfidence, SheetDocuments, SheetCorrections}
	got := wb.GetSheetList()
	if len(got) != len(want) {
		t.Fatalf("sheets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sheets = %v, want %v", got, want)
		}
	}

	if v := cell(t, wb, SheetSummary, "B3"); v != "0.5" {
		t.Fatalf("accuracy cell = %q, want 0.5", v)
	}
	if v := cell(t, wb, SheetSummary, "B7"); v != "2" {
		t.Fatalf("documents cell = %q, want 2", v)
	}
	// labels sort as bank_statement, w9_form; one bank statement was predicted as w9.
	if cell(t, wb, SheetClassification, "B1") != "bank_statement" || cell(t, wb, SheetClassification, "C2") != "1" {
		t.Fatalf("unexpected confusion matrix: B1=%q C2=%q",
			cell(t, wb, SheetClassification, "B1"), cell(t, wb, SheetClassification, "C2"))
	}
	if cell(t, wb, SheetExtraction, "A2") != "legal_name" || cell(t, wb, SheetExtraction, "B2") != "1" {
		t.Fatal("unexpected extraction row")
	}
	if cell(t, wb, SheetConfidence, "A2") != "w9_form" || cell(t, wb, SheetConfidence, "B2") != "1" || cell(t, wb, SheetConfidence, "E2") != "1" {
		t.Fatal("unexpected confidence row")
	}
	if cell(t, wb, SheetDocuments, "A2") != "doc-1" || cell(t, wb, SheetDocuments, "F2") != domain.StatusAutoApproved {
		t.Fatal("unexpected document row")
	}
	if cell(t, wb, SheetCorrections, "B2") != "ein_or_ssn" || cell(t, wb, SheetCorrections, "C2") != "3" {
		t.Fatal("unexpected corrections row")
	}
}

func TestWriteFile_EmptyDashboard(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	d := review.BuildDashboard(domain.ReviewBatch{}, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	path, err := WriteFile(dir, d, nil)
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if filepath.Base(path) != "dashboard-20260301-090000.xlsx" {
		t.Fatalf("unexpected file name %s", path)
	}
	wb, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	t.Cleanup(func() { _ = wb.Close() })
	rows, err := wb.GetRows(SheetSummary)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 6 {
		t.Fatalf("empty dashboard should omit ops rows, got %d rows", len(rows))
	}
}
