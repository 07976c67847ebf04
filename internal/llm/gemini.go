package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/ppiankov/bsmeter/internal/model"
)

// GeminiProvider implements the Provider interface for Google Gemini models
type GeminiProvider struct {
	client *genai.Client
	config Config
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(config Config) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient(config),
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiProvider{
		client: client,
		config: config,
	}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return p.config.nameOr("gemini")
}

// IsAvailable reports whether a credential is configured
func (p *GeminiProvider) IsAvailable() bool {
	return p.config.APIKey != ""
}

// Analyze runs the fragment through GenerateContent with a JSON response type
func (p *GeminiProvider) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error) {
	if err := checkRequest(ctx, req); err != nil {
		return nil, err
	}

	modelName := p.config.Model
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}

	prompt := BuildPrompt(req)
	resp, err := p.client.Models.GenerateContent(ctx, modelName,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt.User}}}},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return nil, p.classify(ctx, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &model.ResponseFormatError{Provider: p.Name(), Err: errEmptyCompletion}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	return ParseAnalysis(p.Name(), text.String())
}

func (p *GeminiProvider) classify(ctx context.Context, err error) error {
	if ctxErr := contextError(ctx); ctxErr != nil {
		return ctxErr
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(p.Name(), apiErr.Code, 0, apiErr.Message)
	}

	return requestError(ctx, p.Name(), err)
}
