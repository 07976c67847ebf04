package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements the Provider interface for OpenAI chat models
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient(config)

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.config.nameOr("openai")
}

// IsAvailable reports whether a credential is configured
func (p *OpenAIProvider) IsAvailable() bool {
	return p.config.APIKey != ""
}

// Probe lists models, a lightweight authenticated call
func (p *OpenAIProvider) Probe(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return p.classify(ctx, err)
	}
	return nil
}

// Analyze runs the fragment through the Chat Completions API
func (p *OpenAIProvider) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error) {
	if err := checkRequest(ctx, req); err != nil {
		return nil, err
	}

	modelName := p.config.Model
	if modelName == "" {
		modelName = openai.GPT4oMini
	}

	prompt := BuildPrompt(req)
	chatReq := openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: prompt.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt.User,
			},
		},
		MaxTokens:   p.config.maxTokens(),
		Temperature: 0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.classify(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return nil, &model.ResponseFormatError{Provider: p.Name(), Err: errEmptyCompletion}
	}

	return ParseAnalysis(p.Name(), resp.Choices[0].Message.Content)
}

func (p *OpenAIProvider) classify(ctx context.Context, err error) error {
	if ctxErr := contextError(ctx); ctxErr != nil {
		return ctxErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(p.Name(), apiErr.HTTPStatusCode, 0, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(p.Name(), reqErr.HTTPStatusCode, 0, reqErr.Error())
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &model.ResponseFormatError{Provider: p.Name(), Err: err}
	}

	return requestError(ctx, p.Name(), err)
}
