package review

import (
	"fmt"

	"loandocs/internal/domain"
)

// DefaultThresholds are the minimum classification confidences for a document
// to skip human review.
var DefaultThresholds = map[domain.DocumentType]float64{
	domain.BankStatement:          0.80,
	domain.GovernmentID:           0.90,
	domain.W9Form:                 0.85,
	domain.CertificateOfInsurance: 0.80,
	domain.Unknown:                1.0,
}

// Policy decides whether a classification needs a human. Types without a
// threshold use Fallback.
type Policy struct {
	Thresholds map[domain.DocumentType]float64
	Fallback   float64
}

// NewPolicy overlays configured thresholds on the defaults.
func NewPolicy(configured map[string]float64) (Policy, error) {
	p := Policy{Thresholds: make(map[domain.DocumentType]float64, len(DefaultThresholds)), Fallback: 1.0}
	for t, v := range DefaultThresholds {
		p.Thresholds[t] = v
	}
	for name, v := range configured {
		if v < 0 || v > 1 {
			return Policy{}, fmt.Errorf("confidence threshold for %s is %.2f, want a value in [0,1]", name, v)
		}
		p.Thresholds[domain.ParseDocumentType(name)] = v
	}
	return p, nil
}

func (p Policy) Threshold(t domain.DocumentType) float64 {
	if v, ok := p.Thresholds[t]; ok {
		return v
	}
	return p.Fallback
}

func (p Policy) NeedsReview(r domain.ClassificationResult) bool {
	return r.Confidence < p.Threshold(r.DocumentType)
}

// Status is the approval tag recorded for a reviewed document.
func (p Policy) Status(r domain.ClassificationResult) string {
	if p.NeedsReview(r) {
		return domain.StatusNeedsReview
	}
	return domain.StatusAutoApproved
}
