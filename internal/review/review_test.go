package review

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"loandocs/internal/domain"
	"loandocs/internal/pipeline"
)

type correction struct {
	docType              domain.DocumentType
	field, prev, current string
}

// memoryRecorder stores batches all or nothing. It fails while failures > 0,
// decrementing it per call, and always fails when err is set.
type memoryRecorder struct {
	records  []correction
	err      error
	failures int
	calls    int
}

func (m *memoryRecorder) RecordCorrections(ctx context.Context, records []domain.CorrectionRecord) (int, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	if m.failures > 0 {
		m.failures--
		return 0, domain.ErrStoreUnavailable
	}
	written := 0
	for _, r := range records {
		if r.PreviousValue == r.CorrectedValue {
			continue
		}
		m.records = append(m.records, correction{r.DocumentType, r.FieldName, r.PreviousValue, r.CorrectedValue})
		written++
	}
	return written, nil
}

func w9Result(ref string, confidence float64) *pipeline.Result {
	return &pipeline.Result{
		Source:   ref + ".pdf",
		Document: domain.DocumentRef(ref),
		Classification: domain.ClassificationResult{
			DocumentType: domain.W9Form,
			Confidence:   confidence,
			Reasoning:    "Form W-9",
		},
		Fields: []domain.ExtractedField{
			{Name: "legal_name", Value: "Acme LLC", Confidence: 0.95, Page: 1},
			{Name: "ein_or_ssn", Value: "123456789", Confidence: 0.80, Page: 1},
		},
		LatencySeconds: 4,
		CostUSD:        0.002,
	}
}

func newTestSession(t *testing.T, rec Recorder) *Session {
	t.Helper()
	policy, err := NewPolicy(nil)
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	return NewSession(policy, rec, nil)
}

func TestPolicy(t *testing.T) {
	p, err := NewPolicy(map[string]float64{"W9_Form": 0.5, "pay_stub": 0.7})
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	tests := []struct {
		docType    domain.DocumentType
		confidence float64
		want       string
	}{
		{domain.W9Form, 0.5, domain.StatusAutoApproved},
		{domain.W9Form, 0.49, domain.StatusNeedsReview},
		{domain.GovernmentID, 0.89, domain.StatusNeedsReview},
		{domain.BankStatement, 0.80, domain.StatusAutoApproved},
		{domain.Unknown, 0.99, domain.StatusNeedsReview},
		{"pay_stub", 0.75, domain.StatusAutoApproved},
		{"invoice", 0.99, domain.StatusNeedsReview},
	}
	for _, tt := range tests {
		got := p.Status(domain.ClassificationResult{DocumentType: tt.docType, Confidence: tt.confidence})
		if got != tt.want {
			t.Errorf("Status(%s, %.2f) = %s, want %s", tt.docType, tt.confidence, got, tt.want)
		}
	}

	if _, err := NewPolicy(map[string]float64{"w9_form": 1.5}); err == nil {
		t.Fatal("expected out-of-range threshold to be rejected")
	}
}

func TestApply_RecordsChangedFieldsOnly(t *testing.T) {
	rec := &memoryRecorder{}
	s := newTestSession(t, rec)
	s.Add(w9Result("doc-1", 0.95))

	doc, err := s.Apply(context.Background(), "doc-1", Decision{Values: map[string]string{
		"legal_name": "Acme LLC",
		"ein_or_ssn": "12-3456789",
	}})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(rec.records) != 1 {
		t.Fatalf("expected one correction, got %+v", rec.records)
	}
	if got := rec.records[0]; got.docType != domain.W9Form || got.field != "ein_or_ssn" || got.prev != "123456789" || got.current != "12-3456789" {
		t.Fatalf("unexpected correction %+v", got)
	}
	if doc.Status != domain.StatusAutoApproved || !doc.Reviewed || doc.Corrections != 1 {
		t.Fatalf("unexpected document state %+v", doc)
	}
	if doc.Fields[1].Value != "12-3456789" {
		t.Fatalf("expected corrected field value, got %q", doc.Fields[1].Value)
	}

	if _, err := s.Apply(context.Background(), "doc-1", Decision{}); !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("expected ErrAlreadyReviewed, got %v", err)
	}
}

func TestApply_TypeOverride(t *testing.T) {
	rec := &memoryRecorder{}
	s := newTestSession(t, rec)
	s.Add(w9Result("doc-1", 0.40))

	doc, err := s.Apply(context.Background(), "doc-1", Decision{
		DocumentType: domain.BankStatement,
		Values:       map[string]string{"legal_name": "ACME LLC"},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if doc.Classification.DocumentType != domain.BankStatement || doc.Classification.Confidence != 1.0 {
		t.Fatalf("expected override with confidence 1.0, got %+v", doc.Classification)
	}
	if doc.OriginalConfidence != 0.40 || doc.Status != domain.StatusNeedsReview {
		t.Fatalf("unexpected document state %+v", doc)
	}
	if rec.records[0].docType != domain.BankStatement {
		t.Fatalf("correction should be stored under the final type, got %s", rec.records[0].docType)
	}

	batch := s.Batch()
	if len(batch.Classifications) != 1 || batch.Classifications[0].Predicted != domain.W9Form || batch.Classifications[0].Actual != domain.BankStatement {
		t.Fatalf("unexpected classification reviews %+v", batch.Classifications)
	}
	if batch.Confidences[0].Confidence != 0.40 {
		t.Fatalf("confidence samples should keep the model's confidence, got %+v", batch.Confidences[0])
	}
}

func TestApply_TypeLockedAboveThreshold(t *testing.T) {
	s := newTestSession(t, &memoryRecorder{})
	s.Add(w9Result("doc-1", 0.99))
	_, err := s.Apply(context.Background(), "doc-1", Decision{DocumentType: domain.GovernmentID})
	if !errors.Is(err, ErrTypeLocked) {
		t.Fatalf("expected ErrTypeLocked, got %v", err)
	}
	if d, _ := s.Get("doc-1"); d.Reviewed {
		t.Fatal("rejected decision must leave the document pending")
	}
}

func TestApply_StoreFailureLeavesDocumentPending(t *testing.T) {
	rec := &memoryRecorder{err: domain.ErrStoreUnavailable}
	s := newTestSession(t, rec)
	s.Add(w9Result("doc-1", 0.95))

	_, err := s.Apply(context.Background(), "doc-1", Decision{Values: map[string]string{"ein_or_ssn": "12-3456789"}})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(s.Pending()) != 1 {
		t.Fatal("document should still be pending")
	}
	if batch := s.Batch(); len(batch.Extractions) != 0 || len(batch.Classifications) != 0 {
		t.Fatalf("failed review must not add samples, got %+v", batch)
	}
}

func TestApply_RetryAfterStoreFailureStoresEachCorrectionOnce(t *testing.T) {
	rec := &memoryRecorder{failures: 1}
	s := newTestSession(t, rec)
	s.Add(w9Result("doc-1", 0.40))
	decision := Decision{Values: map[string]string{
		"legal_name": "Acme, LLC",
		"ein_or_ssn": "12-3456789",
	}}

	if _, err := s.Apply(context.Background(), "doc-1", decision); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(rec.records) != 0 {
		t.Fatalf("failed review must store nothing, got %+v", rec.records)
	}

	doc, err := s.Apply(context.Background(), "doc-1", decision)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if len(rec.records) != 2 || doc.Corrections != 2 {
		t.Fatalf("want 2 corrections after retry, got %d stored: %+v", len(rec.records), rec.records)
	}
	if rec.calls != 2 {
		t.Fatalf("expected one batch write per Apply, got %d calls", rec.calls)
	}
}

func TestApply_NoChangesSkipsStore(t *testing.T) {
	rec := &memoryRecorder{}
	s := newTestSession(t, rec)
	s.Add(w9Result("doc-1", 0.95))
	if _, err := s.Apply(context.Background(), "doc-1", Decision{}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if rec.calls != 0 {
		t.Fatalf("expected no store write without changes, got %d calls", rec.calls)
	}
}

func TestApply_NotFound(t *testing.T) {
	s := newTestSession(t, nil)
	if _, err := s.Apply(context.Background(), "nope", Decision{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDashboard(t *testing.T) {
	s := newTestSession(t, &memoryRecorder{})
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	empty := s.Dashboard(now)
	if empty.Ops != nil || len(empty.Extraction) != 0 || empty.MacroF1 != 0 {
		t.Fatalf("expected empty dashboard, got %+v", empty)
	}

	s.Add(w9Result("doc-1", 0.95))
	s.Add(w9Result("doc-2", 0.50))
	s.Add(w9Result("doc-3", 0.70))
	if _, err := s.Apply(context.Background(), "doc-1", Decision{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Apply(context.Background(), "doc-2", Decision{Values: map[string]string{"ein_or_ssn": "12-3456789"}}); err != nil {
		t.Fatal(err)
	}

	d := s.Dashboard(now)
	if d.Classification.Accuracy != 1.0 {
		t.Fatalf("accuracy = %f, want 1", d.Classification.Accuracy)
	}
	if d.Ops == nil || d.Ops.TotalDocs != 3 {
		t.Fatalf("expected ops over all three documents, got %+v", d.Ops)
	}
	if math.Abs(d.Ops.AutoApproveRate-1.0/3.0) > 1e-9 {
		t.Fatalf("auto approve rate = %f, want 1/3", d.Ops.AutoApproveRate)
	}
	// doc-3 is still pending and counts toward human review with doc-2.
	if math.Abs(d.Ops.HumanReviewRate-2.0/3.0) > 1e-9 {
		t.Fatalf("human review rate = %f, want 2/3", d.Ops.HumanReviewRate)
	}
	if len(d.Extraction) != 2 {
		t.Fatalf("expected two field metrics, got %+v", d.Extraction)
	}
	for _, f := range d.Extraction {
		if f.FieldName == "ein_or_ssn" && f.ExactMatchRate != 0.5 {
			t.Fatalf("ein_or_ssn exact match = %f, want 0.5", f.ExactMatchRate)
		}
	}
	if len(d.Confidence) != 1 || d.Confidence[0].Total() != 3 {
		t.Fatalf("unexpected confidence distribution %+v", d.Confidence)
	}
	if d.MacroF1 <= 0 || d.MacroF1 > 1 {
		t.Fatalf("macro F1 out of range: %f", d.MacroF1)
	}
}
