package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"loandocs/internal/domain"
)

// Anthropic forces a single tool call whose input schema is the response
// schema, so the tool input is the structured output.
type Anthropic struct {
	client anthropic.Client
	model  string
	docs   DocumentSource
	logger *zap.Logger
}

type AnthropicConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

func NewAnthropic(cfg AnthropicConfig, docs DocumentSource, logger *zap.Logger) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retry policy belongs to callers.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
		docs:   docs,
		logger: logger,
	}
}

func (a *Anthropic) Generate(ctx context.Context, req Request) (Response, error) {
	doc, err := resolveDocument(a.docs, req.Document)
	if err != nil {
		return Response{}, err
	}
	model := pickModel(req.Model, a.model, defaultAnthropicModel)
	props, required := schemaParts(req.Schema)

	a.logger.Info("llm generate",
		zap.String("provider", ProviderAnthropic),
		zap.String("model", model),
		zap.String("schema", req.SchemaName),
		zap.Int("document_bytes", len(doc.Data)),
	)

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   defaultMaxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{
					Data: base64.StdEncoding.EncodeToString(doc.Data),
				}),
				anthropic.NewTextBlock(req.Instruction),
			),
		},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        req.SchemaName,
				Description: anthropic.String("Return the result for the attached document."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.SchemaName},
		},
	})
	if err != nil {
		a.logger.Warn("llm anthropic error", zap.Error(err))
		return Response{}, fmt.Errorf("anthropic messages: %w: %w", domain.ErrModelInvocation, err)
	}

	usage := domain.Usage{
		PromptTokens:     message.Usage.InputTokens + message.Usage.CacheCreationInputTokens + message.Usage.CacheReadInputTokens,
		CandidatesTokens: message.Usage.OutputTokens,
	}
	for _, block := range message.Content {
		if block.Type == "tool_use" && block.Name == req.SchemaName {
			a.logger.Info("llm anthropic response",
				zap.Int("size", len(block.Input)),
				zap.Int64("tokens_in", usage.PromptTokens),
				zap.Int64("tokens_out", usage.CandidatesTokens),
			)
			return Response{JSON: []byte(block.Input), Model: model, Usage: usage}, nil
		}
	}
	return Response{Model: model, Usage: usage}, fmt.Errorf("no %s tool call in anthropic response: %w", req.SchemaName, domain.ErrModelInvocation)
}
