package metrics

import (
	"sort"

	"loandocs/internal/domain"
)

// ConfidenceBuckets counts classifications of one document type by the
// confidence the model originally reported.
type ConfidenceBuckets struct {
	DocumentType string  `json:"doc_type"`
	Below50      int     `json:"below_50"`
	From50To70   int     `json:"from_50_to_70"`
	From70To90   int     `json:"from_70_to_90"`
	From90       int     `json:"from_90"`
	Mean         float64 `json:"mean"`
}

func (b ConfidenceBuckets) Total() int {
	return b.Below50 + b.From50To70 + b.From70To90 + b.From90
}

// ConfidenceDistribution groups samples per document type, ordered by type.
func ConfidenceDistribution(samples []domain.ConfidenceSample) []ConfidenceBuckets {
	byType := make(map[string]*ConfidenceBuckets)
	sums := make(map[string]float64)
	for _, s := range samples {
		key := string(s.DocumentType)
		b, ok := byType[key]
		if !ok {
			b = &ConfidenceBuckets{DocumentType: key}
			byType[key] = b
		}
		switch {
		case s.Confidence < 0.50:
			b.Below50++
		case s.Confidence < 0.70:
			b.From50To70++
		case s.Confidence < 0.90:
			b.From70To90++
		default:
			b.From90++
		}
		sums[key] += s.Confidence
	}

	keys := make([]string, 0, len(byType))
	for k := range byType {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]ConfidenceBuckets, 0, len(keys))
	for _, k := range keys {
		b := byType[k]
		b.Mean = sums[k] / float64(b.Total())
		out = append(out, *b)
	}
	return out
}
