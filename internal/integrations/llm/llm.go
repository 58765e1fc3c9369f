// Package llm adapts hosted model APIs to a single schema-constrained
// generate call over a cached PDF.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"loandocs/internal/documents"
	"loandocs/internal/domain"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultMaxTokens      = 8192
)

// Request is one model invocation. Schema is a JSON Schema object the
// response must satisfy; SchemaName labels it for the provider.
type Request struct {
	Instruction string
	Model       string
	Document    domain.DocumentRef
	SchemaName  string
	Schema      map[string]any
	Temperature float64
}

type Response struct {
	JSON  []byte
	Model string
	Usage domain.Usage
}

// Generator is the model invocation capability the orchestrators consume.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// DocumentSource resolves a reference handed out by the document loader.
type DocumentSource interface {
	Get(ref domain.DocumentRef) (documents.Document, bool)
}

// New builds the configured provider.
func New(provider string, anthropicCfg AnthropicConfig, openAICfg OpenAIConfig, docs DocumentSource, logger *zap.Logger) (Generator, error) {
	switch provider {
	case "", ProviderAnthropic:
		return NewAnthropic(anthropicCfg, docs, logger), nil
	case ProviderOpenAI:
		return NewOpenAI(openAICfg, docs, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q: %w", provider, domain.ErrConfiguration)
	}
}

func resolveDocument(src DocumentSource, ref domain.DocumentRef) (documents.Document, error) {
	if src == nil {
		return documents.Document{}, fmt.Errorf("no document source configured: %w", domain.ErrModelInvocation)
	}
	doc, ok := src.Get(ref)
	if !ok {
		return documents.Document{}, fmt.Errorf("document %s not loaded: %w", ref, domain.ErrModelInvocation)
	}
	return doc, nil
}

func pickModel(requested, configured, fallback string) string {
	switch {
	case requested != "":
		return requested
	case configured != "":
		return configured
	default:
		return fallback
	}
}

// schemaParts splits an object schema into its properties and required list.
func schemaParts(schema map[string]any) (map[string]any, []string) {
	props, _ := schema["properties"].(map[string]any)
	var required []string
	switch r := schema["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return props, required
}
