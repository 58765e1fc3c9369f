package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"loandocs/internal/domain"
)

const (
	stageLoad     = "load"
	stageClassify = "classify"
	stageExtract  = "extract"
)

var (
	// DocumentsTotal counts documents by the stage they finished in.
	// Labels: stage (load, classify, extract), result (success, error)
	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loandocs",
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Documents processed by final stage and result",
		},
		[]string{"stage", "result"},
	)

	// StageDuration tracks model round trips per stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "loandocs",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"stage"},
	)

	// TokensTotal counts model tokens. Labels: stage, kind (prompt, candidates, thoughts)
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loandocs",
			Subsystem: "pipeline",
			Name:      "tokens_total",
			Help:      "Model tokens consumed by stage and kind",
		},
		[]string{"stage", "kind"},
	)

	// CostUSDTotal accumulates the estimated model spend.
	CostUSDTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loandocs",
			Subsystem: "pipeline",
			Name:      "cost_usd_total",
			Help:      "Estimated model cost in USD",
		},
	)

	// ClassificationConfidence records the model's confidence per predicted type.
	ClassificationConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "loandocs",
			Subsystem: "pipeline",
			Name:      "classification_confidence",
			Help:      "Classification confidence by predicted document type",
			Buckets:   []float64{0.5, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		},
		[]string{"doc_type"},
	)
)

func observeUsage(stage string, usage domain.Usage, cost float64) {
	TokensTotal.WithLabelValues(stage, "prompt").Add(float64(usage.PromptTokens))
	TokensTotal.WithLabelValues(stage, "candidates").Add(float64(usage.CandidatesTokens))
	TokensTotal.WithLabelValues(stage, "thoughts").Add(float64(usage.ThoughtsTokens))
	if cost > 0 {
		CostUSDTotal.Add(cost)
	}
}

func observeResult(stage string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	DocumentsTotal.WithLabelValues(stage, result).Inc()
}
