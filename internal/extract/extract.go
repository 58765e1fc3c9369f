// Package extract pulls typed fields out of a classified document, steering
// the model with the reviewer corrections recorded for that document type.
package extract

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
	SchemaName  = "extracted_fields"
	Temperature = 0.1
)

// ContextBuilder supplies the learning notes for a document type.
type ContextBuilder interface {
	BuildContext(ctx context.Context, docType domain.DocumentType) string
}

type Extractor struct {
	gen      llm.Generator
	template *prompts.Template
	learning ContextBuilder
	logger   *zap.Logger
}

func New(gen llm.Generator, template *prompts.Template, learning ContextBuilder, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{gen: gen, template: template, learning: learning, logger: logger}
}

// Prompt composes the instruction for docType: schema text first, then the
// learning notes, each placeholder replaced once.
func (e *Extractor) Prompt(ctx context.Context, docType domain.DocumentType) (string, error) {
	if e.template == nil || strings.TrimSpace(e.template.Instruction) == "" {
		return "", fmt.Errorf("extraction prompt template not loaded: %w", domain.ErrConfiguration)
	}
	notes := ""
	if e.learning != nil {
		notes = e.learning.BuildContext(ctx, docType)
	}
	return e.template.Fill(
		prompts.SchemaPlaceholder, SchemaFor(docType).Text(),
		prompts.LearningPlaceholder, notes,
	), nil
}

func (e *Extractor) Extract(ctx context.Context, ref domain.DocumentRef, docType domain.DocumentType) ([]domain.ExtractedField, domain.Usage, error) {
	instruction, err := e.Prompt(ctx, docType)
	if err != nil {
		return nil, domain.Usage{}, err
	}
	if e.gen == nil {
		return nil, domain.Usage{}, fmt.Errorf("extractor has no model client: %w", domain.ErrConfiguration)
	}

	resp, err := e.gen.Generate(ctx, llm.Request{
		Instruction: instruction,
		Model:       e.template.Model,
		Document:    ref,
		SchemaName:  SchemaName,
		Schema:      ResponseSchema(),
		Temperature: Temperature,
	})
	if err != nil {
		return nil, resp.Usage, fmt.Errorf("extract %s: %w", ref, err)
	}

	fields, err := ParseResponse(resp.JSON)
	if err != nil {
		e.logger.Warn("extract response rejected", zap.String("document", string(ref)), zap.Error(err))
		return nil, resp.Usage, fmt.Errorf("extract %s: %w", ref, err)
	}
	e.logger.Info("extract",
		zap.String("document", string(ref)),
		zap.String("type", string(docType)),
		zap.Int("fields", len(fields)),
		zap.Int64("tokens", resp.Usage.TotalTokens()),
	)
	return fields, resp.Usage, nil
}

type rawField struct {
	Name       *string             `json:"name"`
	Value      *string             `json:"value"`
	Confidence *float64            `json:"confidence"`
	Page       *int                `json:"page"`
	Box        *domain.BoundingBox `json:"box_2d"`
}

type rawResponse struct {
	Fields *[]rawField `json:"extracted_fields"`
}

// ParseResponse decodes and validates the extraction response, keeping the
// model's field order.
func ParseResponse(data []byte) ([]domain.ExtractedField, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var raw rawResponse
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding extraction: %w: %w", domain.ErrValidation, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after extraction object: %w", domain.ErrValidation)
	}
	if raw.Fields == nil {
		return nil, fmt.Errorf("missing extracted_fields: %w", domain.ErrValidation)
	}

	fields := make([]domain.ExtractedField, 0, len(*raw.Fields))
	for i, f := range *raw.Fields {
		switch {
		case f.Name == nil || strings.TrimSpace(*f.Name) == "":
			return nil, fmt.Errorf("field %d: missing name: %w", i, domain.ErrValidation)
		case f.Value == nil:
			return nil, fmt.Errorf("field %s: missing value: %w", *f.Name, domain.ErrValidation)
		case f.Confidence == nil:
			return nil, fmt.Errorf("field %s: missing confidence: %w", *f.Name, domain.ErrValidation)
		case f.Page == nil:
			return nil, fmt.Errorf("field %s: missing page: %w", *f.Name, domain.ErrValidation)
		}
		if *f.Confidence < 0 || *f.Confidence > 1 {
			return nil, fmt.Errorf("field %s: confidence %.3f outside [0,1]: %w", *f.Name, *f.Confidence, domain.ErrValidation)
		}
		if *f.Page < 1 {
			return nil, fmt.Errorf("field %s: page %d below 1: %w", *f.Name, *f.Page, domain.ErrValidation)
		}
		if f.Box != nil {
			if err := f.Box.Validate(); err != nil {
				return nil, fmt.Errorf("field %s: box_2d: %w: %w", *f.Name, domain.ErrValidation, err)
			}
		}
		fields = append(fields, domain.ExtractedField{
			Name:       *f.Name,
			Value:      *f.Value,
			Confidence: *f.Confidence,
			Page:       *f.Page,
			Box:        f.Box,
		})
	}
	return fields, nil
}
