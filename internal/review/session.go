// Package review holds processed documents until a reviewer approves them,
// feeds field corrections to the learning loop and accumulates the samples
// the dashboard is computed from.
package review

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"loandocs/internal/domain"
	"loandocs/internal/pipeline"
)

const StatusProcessed = "processed"

var (
	ErrNotFound        = errors.New("document not found")
	ErrAlreadyReviewed = errors.New("document already reviewed")
	// ErrTypeLocked is returned when a reviewer overrides the type of a
	// document whose classification cleared its threshold.
	ErrTypeLocked = errors.New("document type is locked above the confidence threshold")
)

// Recorder persists the corrections of one review, all or nothing.
type Recorder interface {
	RecordCorrections(ctx context.Context, records []domain.CorrectionRecord) (int, error)
}

// Document is a processed document as the reviewer sees it.
type Document struct {
	ID                 string                      `json:"id"`
	Source             string                      `json:"source"`
	Classification     domain.ClassificationResult `json:"classification"`
	OriginalConfidence float64                     `json:"original_confidence"`
	PredictedType      domain.DocumentType         `json:"predicted_type"`
	Threshold          float64                     `json:"threshold"`
	Fields             []domain.ExtractedField     `json:"fields"`
	LatencySeconds     float64                     `json:"latency_seconds"`
	CostUSD            float64                     `json:"cost_usd"`
	Status             string                      `json:"status"`
	Reviewed           bool                        `json:"reviewed"`
	Corrections        int                         `json:"corrections"`
}

// Decision is a reviewer's verdict. An empty DocumentType keeps the predicted
// type; fields missing from Values keep the model's value.
type Decision struct {
	DocumentType domain.DocumentType `json:"document_type,omitempty"`
	Values       map[string]string   `json:"values,omitempty"`
}

type Session struct {
	mu       sync.Mutex
	policy   Policy
	recorder Recorder
	logger   *zap.Logger

	order []string
	docs  map[string]*Document

	classifications []domain.ClassificationReview
	extractions     []domain.ExtractionReview
}

func NewSession(policy Policy, recorder Recorder, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		policy:   policy,
		recorder: recorder,
		logger:   logger,
		docs:     make(map[string]*Document),
	}
}

func (s *Session) Policy() Policy {
	return s.policy
}

// Add registers a pipeline result for review and returns its snapshot.
func (s *Session) Add(res *pipeline.Result) Document {
	doc := &Document{
		ID:                 string(res.Document),
		Source:             res.Source,
		Classification:     res.Classification,
		OriginalConfidence: res.Classification.Confidence,
		PredictedType:      res.Classification.DocumentType,
		Threshold:          s.policy.Threshold(res.Classification.DocumentType),
		Fields:             append([]domain.ExtractedField(nil), res.Fields...),
		LatencySeconds:     res.LatencySeconds,
		CostUSD:            res.CostUSD,
		Status:             StatusProcessed,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; !exists {
		s.order = append(s.order, doc.ID)
	}
	s.docs[doc.ID] = doc
	return copyDocument(doc)
}

func (s *Session) Get(id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return copyDocument(doc), nil
}

// Documents lists every document in arrival order.
func (s *Session) Documents() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyDocument(s.docs[id]))
	}
	return out
}

// Pending lists unreviewed documents.
func (s *Session) Pending() []Document {
	var out []Document
	for _, d := range s.Documents() {
		if !d.Reviewed {
			out = append(out, d)
		}
	}
	return out
}

// Apply records a reviewer decision. Changed field values are written to the
// learning loop under the final document type in a single batch; if the write
// fails nothing is stored, the document stays pending and the error is
// returned.
func (s *Session) Apply(ctx context.Context, id string, decision Decision) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if doc.Reviewed {
		return Document{}, fmt.Errorf("%s: %w", id, ErrAlreadyReviewed)
	}

	needsReview := s.policy.NeedsReview(doc.Classification)
	finalType := doc.PredictedType
	if decision.DocumentType != "" {
		requested := domain.ParseDocumentType(string(decision.DocumentType))
		if requested != doc.PredictedType {
			if !needsReview {
				return Document{}, fmt.Errorf("%s: %w", id, ErrTypeLocked)
			}
			finalType = requested
		}
	}

	predicted := make(map[string]string, len(doc.Fields))
	corrected := make(map[string]string, len(doc.Fields))
	fields := make([]domain.ExtractedField, len(doc.Fields))
	var changed []domain.CorrectionRecord
	for i, f := range doc.Fields {
		predicted[f.Name] = f.Value
		value := f.Value
		if v, ok := decision.Values[f.Name]; ok {
			value = v
		}
		corrected[f.Name] = value
		fields[i] = f
		fields[i].Value = value
		if value == f.Value {
			continue
		}
		changed = append(changed, domain.CorrectionRecord{
			DocumentType:   finalType,
			FieldName:      f.Name,
			PreviousValue:  f.Value,
			CorrectedValue: value,
		})
	}
	if s.recorder != nil && len(changed) > 0 {
		if _, err := s.recorder.RecordCorrections(ctx, changed); err != nil {
			return Document{}, fmt.Errorf("saving corrections for %s: %w", id, err)
		}
	}
	changes := len(changed)

	s.classifications = append(s.classifications, domain.ClassificationReview{
		Predicted: doc.PredictedType,
		Actual:    finalType,
	})
	s.extractions = append(s.extractions, domain.ExtractionReview{
		DocumentType: finalType,
		Predicted:    predicted,
		Corrected:    corrected,
	})

	if finalType != doc.PredictedType {
		doc.Classification = doc.Classification.Corrected(finalType)
	}
	doc.Fields = fields
	doc.Corrections = changes
	doc.Reviewed = true
	if needsReview {
		doc.Status = domain.StatusNeedsReview
	} else {
		doc.Status = domain.StatusAutoApproved
	}

	s.logger.Info("review applied",
		zap.String("document", id),
		zap.String("predicted_type", string(doc.PredictedType)),
		zap.String("final_type", string(finalType)),
		zap.Int("corrections", changes),
		zap.String("status", doc.Status),
	)
	return copyDocument(doc), nil
}

// Batch snapshots the accumulated review samples. Ops and confidence samples
// cover every document; unreviewed ones count as not auto-approved.
func (s *Session) Batch() domain.ReviewBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := domain.ReviewBatch{
		Classifications: append([]domain.ClassificationReview(nil), s.classifications...),
		Extractions:     make([]domain.ExtractionReview, len(s.extractions)),
		Ops:             make([]domain.OpsSample, 0, len(s.order)),
		Confidences:     make([]domain.ConfidenceSample, 0, len(s.order)),
	}
	for i, r := range s.extractions {
		batch.Extractions[i] = domain.ExtractionReview{
			DocumentType: r.DocumentType,
			Predicted:    copyMap(r.Predicted),
			Corrected:    copyMap(r.Corrected),
		}
	}
	for _, id := range s.order {
		d := s.docs[id]
		batch.Ops = append(batch.Ops, domain.OpsSample{
			LatencySeconds: d.LatencySeconds,
			CostUSD:        d.CostUSD,
			Status:         d.Status,
		})
		batch.Confidences = append(batch.Confidences, domain.ConfidenceSample{
			DocumentType: d.Classification.DocumentType,
			Confidence:   d.OriginalConfidence,
		})
	}
	return batch
}

func copyDocument(d *Document) Document {
	out := *d
	out.Fields = append([]domain.ExtractedField(nil), d.Fields...)
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
