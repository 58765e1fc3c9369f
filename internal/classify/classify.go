// Package classify assigns a document to the loan document taxonomy with one
// model call.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"loandocs/internal/domain"
	"loandocs/internal/integrations/llm"
	"loandocs/internal/prompts"
)

const (
	SchemaName  = "classification_result"
	Temperature = 0.1
)

// ResponseSchema is the JSON Schema the model output must satisfy.
func ResponseSchema() map[string]any {
	types := make([]any, 0, len(domain.KnownDocumentTypes))
	for _, t := range domain.KnownDocumentTypes {
		types = append(types, string(t))
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"document_type": map[string]any{
				"type":        "string",
				"enum":        types,
				"description": "Taxonomy label for the document.",
			},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
			"reasoning": map[string]any{
				"type":        "string",
				"description": "Short justification citing visible evidence.",
			},
		},
		"required":             []string{"document_type", "confidence", "reasoning"},
		"additionalProperties": false,
	}
}

type Classifier struct {
	gen      llm.Generator
	template *prompts.Template
	model    string
	logger   *zap.Logger
}

// New wires a classifier. A nil template is reported by Classify so callers
// see the configuration failure on first use.
func New(gen llm.Generator, template *prompts.Template, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{gen: gen, template: template, logger: logger}
	if template != nil {
		c.model = template.Model
	}
	return c
}

func (c *Classifier) Classify(ctx context.Context, ref domain.DocumentRef) (domain.ClassificationResult, domain.Usage, error) {
	if c.template == nil || strings.TrimSpace(c.template.Instruction) == "" {
		return domain.ClassificationResult{}, domain.Usage{}, fmt.Errorf("classifier prompt template not loaded: %w", domain.ErrConfiguration)
	}
	if c.gen == nil {
		return domain.ClassificationResult{}, domain.Usage{}, fmt.Errorf("classifier has no model client: %w", domain.ErrConfiguration)
	}

	resp, err := c.gen.Generate(ctx, llm.Request{
		Instruction: c.template.Instruction,
		Model:       c.model,
		Document:    ref,
		SchemaName:  SchemaName,
		Schema:      ResponseSchema(),
		Temperature: Temperature,
	})
	if err != nil {
		return domain.ClassificationResult{}, resp.Usage, fmt.Errorf("classify %s: %w", ref, err)
	}

	result, err := ParseResponse(resp.JSON)
	if err != nil {
		c.logger.Warn("classify response rejected", zap.String("document", string(ref)), zap.Error(err))
		return domain.ClassificationResult{}, resp.Usage, fmt.Errorf("classify %s: %w", ref, err)
	}
	c.logger.Info("classify",
		zap.String("document", string(ref)),
		zap.String("type", string(result.DocumentType)),
		zap.Float64("confidence", result.Confidence),
		zap.Int64("tokens", resp.Usage.TotalTokens()),
	)
	return result, resp.Usage, nil
}

type rawResult struct {
	DocumentType *string  `json:"document_type"`
	Confidence   *float64 `json:"confidence"`
	Reasoning    *string  `json:"reasoning"`
}

// ParseResponse decodes a model response strictly: unknown keys, missing
// keys, trailing data and out-of-range confidence are all rejected. A label
// outside the taxonomy becomes unknown, which always goes to review.
func ParseResponse(data []byte) (domain.ClassificationResult, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var raw rawResult
	if err := dec.Decode(&raw); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("decoding classification: %w: %w", domain.ErrValidation, err)
	}
	if dec.More() {
		return domain.ClassificationResult{}, fmt.Errorf("trailing data after classification object: %w", domain.ErrValidation)
	}
	switch {
	case raw.DocumentType == nil:
		return domain.ClassificationResult{}, fmt.Errorf("missing document_type: %w", domain.ErrValidation)
	case raw.Confidence == nil:
		return domain.ClassificationResult{}, fmt.Errorf("missing confidence: %w", domain.ErrValidation)
	case raw.Reasoning == nil:
		return domain.ClassificationResult{}, fmt.Errorf("missing reasoning: %w", domain.ErrValidation)
	}
	docType := domain.ParseDocumentType(*raw.DocumentType)
	if docType == "" {
		return domain.ClassificationResult{}, fmt.Errorf("empty document_type: %w", domain.ErrValidation)
	}
	if !docType.Known() {
		docType = domain.Unknown
	}
	if *raw.Confidence < 0 || *raw.Confidence > 1 {
		return domain.ClassificationResult{}, fmt.Errorf("confidence %.3f outside [0,1]: %w", *raw.Confidence, domain.ErrValidation)
	}
	return domain.ClassificationResult{
		DocumentType: docType,
		Confidence:   *raw.Confidence,
		Reasoning:    *raw.Reasoning,
	}, nil
}
