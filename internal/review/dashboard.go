package review

import (
	"time"

	"loandocs/internal/domain"
	"loandocs/internal/metrics"
)

// Dashboard is every metric shown to reviewers, computed from one batch.
type Dashboard struct {
	GeneratedAt    time.Time                     `json:"generated_at"`
	Classification metrics.ClassificationMetrics `json:"classification"`
	Extraction     []metrics.FieldMetric         `json:"extraction"`
	// MacroF1 is the mean token F1 over fields, 0 with no reviews.
	MacroF1     float64                     `json:"macro_f1"`
	Ops         *metrics.OpsMetrics         `json:"ops,omitempty"`
	Confidence  []metrics.ConfidenceBuckets `json:"confidence"`
	Corrections []domain.CorrectionStat     `json:"corrections,omitempty"`
}

func BuildDashboard(batch domain.ReviewBatch, now time.Time) Dashboard {
	fields := metrics.Extraction(batch.Extractions)
	var macro float64
	if len(fields) > 0 {
		for _, f := range fields {
			macro += f.TokenF1Score
		}
		macro /= float64(len(fields))
	}
	return Dashboard{
		GeneratedAt:    now.UTC(),
		Classification: metrics.Classification(batch.Classifications),
		Extraction:     fields,
		MacroF1:        macro,
		Ops:            metrics.LatencyCost(batch.Ops),
		Confidence:     metrics.ConfidenceDistribution(batch.Confidences),
	}
}

// Dashboard computes the dashboard for the current session state.
func (s *Session) Dashboard(now time.Time) Dashboard {
	return BuildDashboard(s.Batch(), now)
}
