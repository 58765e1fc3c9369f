package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"loandocs/internal/domain"
)

type fakeLoader struct {
	mu       sync.Mutex
	released []domain.DocumentRef
}

func (f *fakeLoader) Load(ctx context.Context, location string) (domain.DocumentRef, error) {
	if strings.HasSuffix(location, ".txt") {
		return "", errors.New("not a PDF document")
	}
	return domain.DocumentRef("ref:" + location), nil
}

func (f *fakeLoader) Release(ref domain.DocumentRef) {
	f.mu.Lock()
	f.released = append(f.released, ref)
	f.mu.Unlock()
}

type fakeClassifier struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeClassifier) Classify(ctx context.Context, ref domain.DocumentRef) (domain.ClassificationResult, domain.Usage, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(f.delay)
	usage := domain.Usage{PromptTokens: 1_000_000}
	if strings.Contains(string(ref), "broken") {
		return domain.ClassificationResult{}, usage, fmt.Errorf("classify %s: %w", ref, domain.ErrValidation)
	}
	return domain.ClassificationResult{DocumentType: domain.W9Form, Confidence: 0.9, Reasoning: "W-9"}, usage, nil
}

type fakeExtractor struct {
	mu      sync.Mutex
	gotType domain.DocumentType
}

func (f *fakeExtractor) Extract(ctx context.Context, ref domain.DocumentRef, docType domain.DocumentType) ([]domain.ExtractedField, domain.Usage, error) {
	f.mu.Lock()
	f.gotType = docType
	f.mu.Unlock()
	return []domain.ExtractedField{{Name: "legal_name", Value: "Acme LLC", Confidence: 0.95, Page: 1}},
		domain.Usage{CandidatesTokens: 1_000_000}, nil
}

// steppingClock advances one second per call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestProcess(t *testing.T) {
	loader := &fakeLoader{}
	extractor := &fakeExtractor{}
	o := New(loader, &fakeClassifier{}, extractor, nil, WithClock(steppingClock()))

	before := testutil.ToFloat64(DocumentsTotal.WithLabelValues(stageExtract, "success"))
	res, err := o.Process(context.Background(), "w9.pdf")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if extractor.gotType != domain.W9Form {
		t.Fatalf("extraction ran with type %q, want w9_form", extractor.gotType)
	}
	if res.Document != "ref:w9.pdf" || len(res.Fields) != 1 || res.Classification.Confidence != 0.9 {
		t.Fatalf("unexpected result %+v", res)
	}
	// 0.30 for the classification prompt plus 2.50 for the extraction output.
	if math.Abs(res.CostUSD-2.80) > 1e-9 {
		t.Fatalf("cost = %f, want 2.80", res.CostUSD)
	}
	if res.LatencySeconds <= 0 {
		t.Fatalf("expected positive latency, got %f", res.LatencySeconds)
	}
	if len(loader.released) != 1 || loader.released[0] != "ref:w9.pdf" {
		t.Fatalf("expected document to be released, got %v", loader.released)
	}
	if after := testutil.ToFloat64(DocumentsTotal.WithLabelValues(stageExtract, "success")); after != before+1 {
		t.Fatalf("documents_total{extract,success} = %f, want %f", after, before+1)
	}
}

func TestProcess_ClassificationFailureSkipsExtraction(t *testing.T) {
	extractor := &fakeExtractor{}
	o := New(&fakeLoader{}, &fakeClassifier{}, extractor, nil)
	_, err := o.Process(context.Background(), "broken.pdf")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if extractor.gotType != "" {
		t.Fatal("extraction should not run after a failed classification")
	}
}

func TestProcessBatch_OrderIsolationAndLimit(t *testing.T) {
	classifier := &fakeClassifier{delay: 10 * time.Millisecond}
	o := New(&fakeLoader{}, classifier, &fakeExtractor{}, nil, WithConcurrency(2))

	locations := []string{"a.pdf", "notes.txt", "broken.pdf", "b.pdf", "c.pdf", "d.pdf"}
	items := o.ProcessBatch(context.Background(), locations)

	if len(items) != len(locations) {
		t.Fatalf("expected %d items, got %d", len(locations), len(items))
	}
	for i, it := range items {
		if it.Source != locations[i] {
			t.Fatalf("item %d source = %s, want %s", i, it.Source, locations[i])
		}
	}
	if items[1].Err == nil || items[2].Err == nil {
		t.Fatalf("expected load and classify failures, got %v / %v", items[1].Err, items[2].Err)
	}
	for _, i := range []int{0, 3, 4, 5} {
		if items[i].Err != nil || items[i].Result == nil {
			t.Fatalf("item %d should succeed, got %v", i, items[i].Err)
		}
	}
	if peak := classifier.peak.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent documents, saw %d", peak)
	}
}

func TestProcessBatch_Empty(t *testing.T) {
	o := New(&fakeLoader{}, &fakeClassifier{}, &fakeExtractor{}, nil)
	if items := o.ProcessBatch(context.Background(), nil); len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}
