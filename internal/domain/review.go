package domain

// StatusAutoApproved marks a document whose classification cleared its
// confidence threshold.
const (
	StatusAutoApproved = "auto_approved"
	StatusNeedsReview  = "needs_review"
)

type ClassificationReview struct {
	Predicted DocumentType `json:"predicted_type"`
	Actual    DocumentType `json:"actual_type"`
}

type ExtractionReview struct {
	DocumentType DocumentType      `json:"doc_type"`
	Predicted    map[string]string `json:"predicted_data"`
	Corrected    map[string]string `json:"corrected_data"`
}

type OpsSample struct {
	LatencySeconds float64 `json:"latency_seconds"`
	CostUSD        float64 `json:"cost_usd"`
	Status         string  `json:"status"`
}

type ConfidenceSample struct {
	DocumentType DocumentType `json:"doc_type"`
	Confidence   float64      `json:"confidence"`
}

// ReviewBatch is the input of one dashboard computation.
type ReviewBatch struct {
	Classifications []ClassificationReview `json:"classify_reviews"`
	Extractions     []ExtractionReview     `json:"extraction_reviews"`
	Ops             []OpsSample            `json:"ops_metrics"`
	Confidences     []ConfidenceSample     `json:"confidences"`
}
