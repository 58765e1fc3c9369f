// Package pipeline runs the per-document flow: load, classify, then extract
// with the schema the classification selected.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"loandocs/internal/domain"
	"loandocs/internal/metrics"
)

const DefaultConcurrency = 4

type Loader interface {
	Load(ctx context.Context, location string) (domain.DocumentRef, error)
}

// Releaser is implemented by loaders that cache document bytes.
type Releaser interface {
	Release(ref domain.DocumentRef)
}

type Classifier interface {
	Classify(ctx context.Context, ref domain.DocumentRef) (domain.ClassificationResult, domain.Usage, error)
}

type Extractor interface {
	Extract(ctx context.Context, ref domain.DocumentRef, docType domain.DocumentType) ([]domain.ExtractedField, domain.Usage, error)
}

// Result is one processed document, ready for review.
type Result struct {
	Source              string                      `json:"source"`
	Document            domain.DocumentRef          `json:"document"`
	Classification      domain.ClassificationResult `json:"classification"`
	Fields              []domain.ExtractedField     `json:"fields"`
	ClassificationUsage domain.Usage                `json:"classification_usage"`
	ExtractionUsage     domain.Usage                `json:"extraction_usage"`
	LatencySeconds      float64                     `json:"latency_seconds"`
	CostUSD             float64                     `json:"cost_usd"`
}

// BatchItem pairs an input location with its outcome.
type BatchItem struct {
	Source string
	Result *Result
	Err    error
}

type Orchestrator struct {
	loader      Loader
	classifier  Classifier
	extractor   Extractor
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
}

type Option func(*Orchestrator)

func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func New(loader Loader, classifier Classifier, extractor Extractor, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		loader:      loader,
		classifier:  classifier,
		extractor:   extractor,
		logger:      logger,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process loads the document at location, classifies it and extracts the
// fields for the predicted type. Latency covers the whole run; cost is the
// sum over both model calls.
func (o *Orchestrator) Process(ctx context.Context, location string) (*Result, error) {
	start := o.now()

	ref, err := o.loader.Load(ctx, location)
	if err != nil {
		observeResult(stageLoad, err)
		return nil, fmt.Errorf("load %s: %w", location, err)
	}
	if r, ok := o.loader.(Releaser); ok {
		defer r.Release(ref)
	}

	stageStart := o.now()
	classification, classUsage, err := o.classifier.Classify(ctx, ref)
	StageDuration.WithLabelValues(stageClassify).Observe(o.now().Sub(stageStart).Seconds())
	classCost := metrics.Cost(&classUsage)
	observeUsage(stageClassify, classUsage, classCost)
	if err != nil {
		observeResult(stageClassify, err)
		o.logger.Warn("pipeline classify failed", zap.String("source", location), zap.Error(err))
		return nil, err
	}
	ClassificationConfidence.WithLabelValues(string(classification.DocumentType)).Observe(classification.Confidence)

	stageStart = o.now()
	fields, extractUsage, err := o.extractor.Extract(ctx, ref, classification.DocumentType)
	StageDuration.WithLabelValues(stageExtract).Observe(o.now().Sub(stageStart).Seconds())
	extractCost := metrics.Cost(&extractUsage)
	observeUsage(stageExtract, extractUsage, extractCost)
	observeResult(stageExtract, err)
	if err != nil {
		o.logger.Warn("pipeline extract failed", zap.String("source", location), zap.Error(err))
		return nil, err
	}

	result := &Result{
		Source:              location,
		Document:            ref,
		Classification:      classification,
		Fields:              fields,
		ClassificationUsage: classUsage,
		ExtractionUsage:     extractUsage,
		LatencySeconds:      o.now().Sub(start).Seconds(),
		CostUSD:             classCost + extractCost,
	}
	o.logger.Info("pipeline processed",
		zap.String("source", location),
		zap.String("type", string(classification.DocumentType)),
		zap.Float64("confidence", classification.Confidence),
		zap.Int("fields", len(fields)),
		zap.Float64("latency_seconds", result.LatencySeconds),
		zap.Float64("cost_usd", result.CostUSD),
	)
	return result, nil
}

// ProcessBatch runs Process over locations with at most the configured number
// of documents in flight. Items come back in input order; one document's
// failure does not stop the others.
func (o *Orchestrator) ProcessBatch(ctx context.Context, locations []string) []BatchItem {
	items := make([]BatchItem, len(locations))
	if len(locations) == 0 {
		return items
	}
	limit := o.concurrency
	if limit > len(locations) {
		limit = len(locations)
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i, loc := range locations {
		wg.Add(1)
		go func(idx int, loc string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				items[idx] = BatchItem{Source: loc, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			res, err := o.Process(ctx, loc)
			items[idx] = BatchItem{Source: loc, Result: res, Err: err}
		}(i, loc)
	}
	wg.Wait()

	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
		}
	}
	o.logger.Info("pipeline batch", zap.Int("documents", len(items)), zap.Int("failed", failed), zap.Int("concurrency", limit))
	return items
}
