package domain

import (
	"encoding/json"
	"math"
	"testing"
)

func rectEqual(a, b Rect) bool {
	const eps = 1e-9
	return math.Abs(a.X0-b.X0) < eps && math.Abs(a.Y0-b.Y0) < eps &&
		math.Abs(a.X1-b.X1) < eps && math.Abs(a.Y1-b.Y1) < eps
}

func TestBoundingBoxRect(t *testing.T) {
	box := BoundingBox{YMin: 100, XMin: 200, YMax: 300, XMax: 500}
	tests := []struct {
		rotation int
		want     Rect
	}{
		{0, Rect{X0: 120, Y0: 80, X1: 300, Y1: 240}},
		{90, Rect{X0: 60, Y0: 400, X1: 180, Y1: 640}},
		{180, Rect{X0: 300, Y0: 560, X1: 480, Y1: 720}},
		{270, Rect{X0: 420, Y0: 160, X1: 540, Y1: 400}},
		{-90, Rect{X0: 420, Y0: 160, X1: 540, Y1: 400}},
	}
	for _, tt := range tests {
		got := box.Rect(600, 800, tt.rotation)
		if !rectEqual(got, tt.want) {
			t.Errorf("rotation %d: got %+v, want %+v", tt.rotation, got, tt.want)
		}
	}
}

func TestBoundingBoxJSON(t *testing.T) {
	var f ExtractedField
	if err := json.Unmarshal([]byte(`{"name":"n","value":"v","confidence":0.9,"page":1,"box_2d":[10,20,30,40]}`), &f); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if f.Box == nil || f.Box.YMin != 10 || f.Box.XMax != 40 {
		t.Fatalf("unexpected box: %+v", f.Box)
	}
	out, err := json.Marshal(f.Box)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(out) != "[10,20,30,40]" {
		t.Fatalf("unexpected box encoding: %s", out)
	}

	var bad BoundingBox
	if err := json.Unmarshal([]byte(`[1,2,3]`), &bad); err == nil {
		t.Fatal("expected error for three coordinates")
	}
}

func TestBoundingBoxValidate(t *testing.T) {
	if err := (BoundingBox{0, 0, 1000, 1000}).Validate(); err != nil {
		t.Fatalf("full page box rejected: %v", err)
	}
	if err := (BoundingBox{0, 0, 1001, 10}).Validate(); err == nil {
		t.Fatal("expected out-of-range box to be rejected")
	}
	if err := (BoundingBox{500, 0, 100, 10}).Validate(); err == nil {
		t.Fatal("expected inverted box to be rejected")
	}
}

func TestClassificationResultCorrected(t *testing.T) {
	orig := ClassificationResult{DocumentType: Unknown, Confidence: 0.42, Reasoning: "blurry"}
	got := orig.Corrected(W9Form)
	if got.DocumentType != W9Form || got.Confidence != 1.0 {
		t.Fatalf("unexpected corrected result: %+v", got)
	}
	if orig.DocumentType != Unknown || orig.Confidence != 0.42 {
		t.Fatalf("original result mutated: %+v", orig)
	}
}

func TestParseDocumentType(t *testing.T) {
	if got := ParseDocumentType("  W9_Form "); got != W9Form || !got.Known() {
		t.Fatalf("ParseDocumentType = %q", got)
	}
	if ParseDocumentType("invoice").Known() {
		t.Fatal("invoice should not be a known type")
	}
}
