// Package metrics computes the quality and operational statistics shown on the
// review dashboard. Every function is pure: results depend only on the
// arguments, so a dashboard can recompute them on every render.
package metrics

import (
	"math"
	"sort"
	"strings"

	"loandocs/internal/domain"
)

// Prices per one million tokens.
const (
	PricePerMillionInput  = 0.30
	PricePerMillionOutput = 2.50
)

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ExactMatch returns 1 when both values are equal ignoring case and
// surrounding whitespace. A missing value is passed as "".
func ExactMatch(pred, truth string) float64 {
	if normalizeText(pred) == normalizeText(truth) {
		return 1.0
	}
	return 0.0
}

// TokenF1 is the harmonic mean of token precision and recall between two
// values, counting repeated tokens as many times as they occur in both.
func TokenF1(pred, truth string) float64 {
	predTokens := strings.Fields(normalizeText(pred))
	truthTokens := strings.Fields(normalizeText(truth))

	if len(predTokens) == 0 && len(truthTokens) == 0 {
		return 1.0
	}
	if len(predTokens) == 0 || len(truthTokens) == 0 {
		return 0.0
	}

	truthCounts := make(map[string]int, len(truthTokens))
	for _, tok := range truthTokens {
		truthCounts[tok]++
	}
	common := 0
	for _, tok := range predTokens {
		if truthCounts[tok] > 0 {
			truthCounts[tok]--
			common++
		}
	}
	if common == 0 {
		return 0.0
	}

	precision := float64(common) / float64(len(predTokens))
	recall := float64(common) / float64(len(truthTokens))
	return 2 * precision * recall / (precision + recall)
}

type ClassificationMetrics struct {
	Accuracy  float64  `json:"accuracy"`
	Precision float64  `json:"precision"`
	Recall    float64  `json:"recall"`
	Labels    []string `json:"labels"`
	// ConfusionMatrix[i][j] counts documents whose true label is Labels[i]
	// and whose predicted label is Labels[j].
	ConfusionMatrix [][]int `json:"confusion_matrix"`
}

// Classification scores predicted document types against reviewed ones.
// Precision and recall are averaged over labels weighted by true-label
// support; a label never predicted (or never true) contributes 0.
func Classification(reviews []domain.ClassificationReview) ClassificationMetrics {
	labelSet := make(map[string]struct{})
	for _, r := range reviews {
		labelSet[string(r.Predicted)] = struct{}{}
		labelSet[string(r.Actual)] = struct{}{}
	}
	labels := make([]string, 0, len(labelSet))
	for l := range labelSet {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	cm := make([][]int, len(labels))
	for i := range cm {
		cm[i] = make([]int, len(labels))
	}

	out := ClassificationMetrics{Labels: labels, ConfusionMatrix: cm}
	if len(reviews) == 0 {
		return out
	}

	correct := 0
	for _, r := range reviews {
		cm[index[string(r.Actual)]][index[string(r.Predicted)]]++
		if r.Actual == r.Predicted {
			correct++
		}
	}
	total := float64(len(reviews))
	out.Accuracy = float64(correct) / total

	for i := range labels {
		tp := cm[i][i]
		support, predicted := 0, 0
		for j := range labels {
			support += cm[i][j]
			predicted += cm[j][i]
		}
		if support == 0 {
			continue
		}
		weight := float64(support) / total
		if predicted > 0 {
			out.Precision += weight * float64(tp) / float64(predicted)
		}
		out.Recall += weight * float64(tp) / float64(support)
	}
	return out
}

type FieldMetric struct {
	FieldName      string  `json:"field_name"`
	ExactMatchRate float64 `json:"exact_match_rate"`
	TokenF1Score   float64 `json:"token_f1_score"`
	Samples        int     `json:"samples"`
}

// Extraction scores every field of each document's corrected record against
// the predicted record and macro-averages the scores per field name. Fields
// are returned in the order they are first seen.
func Extraction(reviews []domain.ExtractionReview) []FieldMetric {
	type scores struct {
		exact, f1 float64
		n         int
	}
	byField := make(map[string]*scores)
	var order []string

	for _, doc := range reviews {
		// Map iteration order is random; sort so first-seen order is stable.
		fields := make([]string, 0, len(doc.Corrected))
		for f := range doc.Corrected {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		for _, field := range fields {
			truth := doc.Corrected[field]
			pred := doc.Predicted[field]
			s, ok := byField[field]
			if !ok {
				s = &scores{}
				byField[field] = s
				order = append(order, field)
			}
			s.exact += ExactMatch(pred, truth)
			s.f1 += TokenF1(pred, truth)
			s.n++
		}
	}

	out := make([]FieldMetric, 0, len(order))
	for _, field := range order {
		s := byField[field]
		out = append(out, FieldMetric{
			FieldName:      field,
			ExactMatchRate: s.exact / float64(s.n),
			TokenF1Score:   s.f1 / float64(s.n),
			Samples:        s.n,
		})
	}
	return out
}

type OpsMetrics struct {
	P50Latency      float64 `json:"p50_latency"`
	P95Latency      float64 `json:"p95_latency"`
	CostPerDoc      float64 `json:"cost_per_doc"`
	TotalCost       float64 `json:"total_cost"`
	AutoApproveRate float64 `json:"auto_approve_rate"`
	HumanReviewRate float64 `json:"human_review_rate"`
	TotalDocs       int     `json:"total_docs"`
}

// LatencyCost summarizes operational samples. It returns nil when there are
// no samples, meaning there is not enough data yet.
func LatencyCost(samples []domain.OpsSample) *OpsMetrics {
	if len(samples) == 0 {
		return nil
	}

	latencies := make([]float64, len(samples))
	var totalCost float64
	approved := 0
	for i, s := range samples {
		latencies[i] = s.LatencySeconds
		totalCost += s.CostUSD
		if s.Status == domain.StatusAutoApproved {
			approved++
		}
	}
	sort.Float64s(latencies)

	n := float64(len(samples))
	autoRate := float64(approved) / n
	return &OpsMetrics{
		P50Latency:      Percentile(latencies, 50),
		P95Latency:      Percentile(latencies, 95),
		CostPerDoc:      totalCost / n,
		TotalCost:       totalCost,
		AutoApproveRate: autoRate,
		HumanReviewRate: 1.0 - autoRate,
		TotalDocs:       len(samples),
	}
}

// Percentile returns the p-th percentile of sorted values, interpolating
// linearly between the two closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		return sorted[0]
	}
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// Cost prices one model call. A nil usage costs nothing.
func Cost(usage *domain.Usage) float64 {
	if usage == nil {
		return 0.0
	}
	input := float64(usage.PromptTokens) / 1_000_000 * PricePerMillionInput
	output := float64(usage.CandidatesTokens+usage.ThoughtsTokens) / 1_000_000 * PricePerMillionOutput
	return input + output
}
