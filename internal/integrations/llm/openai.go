package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"loandocs/internal/domain"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

type OpenAI struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	docs       DocumentSource
	logger     *zap.Logger
}

type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

func NewOpenAI(cfg OpenAIConfig, docs DocumentSource, logger *zap.Logger) *OpenAI {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    baseURL,
		httpClient: httpClient,
		docs:       docs,
		logger:     logger,
	}
}

type openAIRequest struct {
	Model          string               `json:"model"`
	Messages       []openAIMessage      `json:"messages"`
	Temperature    float64              `json:"temperature"`
	ResponseFormat openAIResponseFormat `json:"response_format"`
}

type openAIMessage struct {
	Role    string              `json:"role"`
	Content []openAIContentPart `json:"content"`
}

type openAIContentPart struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	File *openAIFilePart `json:"file,omitempty"`
}

type openAIFilePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type openAIResponseFormat struct {
	Type       string           `json:"type"`
	JSONSchema openAIJSONSchema `json:"json_schema"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens            int64 `json:"prompt_tokens"`
		CompletionTokens        int64 `json:"completion_tokens"`
		CompletionTokensDetails *struct {
			ReasoningTokens int64 `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	doc, err := resolveDocument(o.docs, req.Document)
	if err != nil {
		return Response{}, err
	}
	model := pickModel(req.Model, o.model, defaultOpenAIModel)
	filename := doc.Name
	if filename == "" {
		filename = "document.pdf"
	}

	reqBody := openAIRequest{
		Model: model,
		Messages: []openAIMessage{{
			Role: "user",
			Content: []openAIContentPart{
				{Type: "file", File: &openAIFilePart{
					Filename: filename,
					FileData: "data:" + doc.MediaType + ";base64," + base64.StdEncoding.EncodeToString(doc.Data),
				}},
				{Type: "text", Text: req.Instruction},
			},
		}},
		Temperature: req.Temperature,
		ResponseFormat: openAIResponseFormat{
			Type:       "json_schema",
			JSONSchema: openAIJSONSchema{Name: req.SchemaName, Schema: req.Schema},
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	o.logger.Info("llm generate",
		zap.String("provider", ProviderOpenAI),
		zap.String("model", model),
		zap.String("schema", req.SchemaName),
		zap.Int("document_bytes", len(doc.Data)),
	)
	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		o.logger.Warn("llm openai error", zap.Error(err))
		return Response{}, fmt.Errorf("openai request: %w: %w", domain.ErrModelInvocation, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading openai response: %w: %w", domain.ErrModelInvocation, err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, fmt.Errorf("parsing openai response (status %d): %w: %w", resp.StatusCode, domain.ErrModelInvocation, err)
	}
	if parsed.Error != nil {
		o.logger.Warn("llm openai api error", zap.Int("status", resp.StatusCode), zap.String("message", parsed.Error.Message))
		return Response{}, fmt.Errorf("openai api error (status %d): %s: %w", resp.StatusCode, parsed.Error.Message, domain.ErrModelInvocation)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("openai api status %d: %w", resp.StatusCode, domain.ErrModelInvocation)
	}

	usage := domain.Usage{}
	if parsed.Usage != nil {
		usage.PromptTokens = parsed.Usage.PromptTokens
		usage.CandidatesTokens = parsed.Usage.CompletionTokens
		if d := parsed.Usage.CompletionTokensDetails; d != nil {
			// completion_tokens already counts reasoning tokens.
			usage.ThoughtsTokens = d.ReasoningTokens
			usage.CandidatesTokens -= d.ReasoningTokens
		}
	}
	if len(parsed.Choices) == 0 {
		return Response{Model: model, Usage: usage}, fmt.Errorf("no choices in openai response: %w", domain.ErrModelInvocation)
	}
	msg := parsed.Choices[0].Message
	if msg.Refusal != "" {
		return Response{Model: model, Usage: usage}, fmt.Errorf("openai refused: %s: %w", msg.Refusal, domain.ErrModelInvocation)
	}

	o.logger.Info("llm openai response",
		zap.Int("size", len(msg.Content)),
		zap.Int64("tokens_in", usage.PromptTokens),
		zap.Int64("tokens_out", usage.CandidatesTokens),
		zap.Int64("tokens_reasoning", usage.ThoughtsTokens),
	)
	return Response{JSON: []byte(msg.Content), Model: model, Usage: usage}, nil
}
