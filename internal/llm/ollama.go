package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ppiankov/bsmeter/internal/model"
)

const (
	ollamaLivenessKey = "up"
	ollamaLivenessTTL = 30 * time.Second
)

// OllamaProvider implements the Provider interface for Ollama local models
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
	config     Config

	// last known reachability; expires so a restarted server is retried
	liveness *gocache.Cache
}

// Ollama API structures
type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	System  string        `json:"system,omitempty"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"` // Max tokens
}

type ollamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`

	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(config Config) (*OllamaProvider, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout("ollama")
	}

	return &OllamaProvider{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: newHTTPClient(config),
		config:     config,
		liveness:   gocache.New(ollamaLivenessTTL, 0),
	}, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return p.config.nameOr("ollama")
}

// IsAvailable returns the last observed reachability without touching the network.
// An unknown state counts as available; the first failed call marks it down.
func (p *OllamaProvider) IsAvailable() bool {
	if up, found := p.liveness.Get(ollamaLivenessKey); found {
		return up.(bool)
	}
	return true
}

func (p *OllamaProvider) markUp(up bool) {
	p.liveness.Set(ollamaLivenessKey, up, gocache.DefaultExpiration)
}

// Probe checks that Ollama is running by listing local models
func (p *OllamaProvider) Probe(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/tags", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			p.markUp(false)
		}
		return requestError(ctx, p.Name(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		p.markUp(false)
		return statusError(p.Name(), resp.StatusCode, 0, fmt.Sprintf("availability check against %s", p.baseURL))
	}

	p.markUp(true)
	return nil
}

// Analyze runs the fragment through a local model
func (p *OllamaProvider) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error) {
	if err := checkRequest(ctx, req); err != nil {
		return nil, err
	}

	modelName := p.config.Model
	if modelName == "" {
		return nil, &model.TransportError{Provider: p.Name(), Err: fmt.Errorf("ollama model must be specified (e.g., llama3.1:8b, mistral)")}
	}

	prompt := BuildPrompt(req)
	apiReq := ollamaRequest{
		Model:  modelName,
		Prompt: prompt.User + "\n\nProvide your analysis:",
		Stream: false,
		System: prompt.System,
		Format: "json",
		Options: ollamaOptions{
			Temperature: 0.3,
			NumPredict:  p.config.maxTokens(),
		},
	}

	resp, err := p.makeRequest(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	return ParseAnalysis(p.Name(), resp.Response)
}

// makeRequest makes an HTTP request to the Ollama API
func (p *OllamaProvider) makeRequest(ctx context.Context, apiReq ollamaRequest) (*ollamaResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/generate", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == nil {
			p.markUp(false)
		}
		return nil, requestError(ctx, p.Name(), err)
	}
	defer func() { _ = httpResp.Body.Close() }()
	p.markUp(true)

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, requestError(ctx, p.Name(), fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		detail := string(respBody)
		var apiErr ollamaError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
			detail = apiErr.Error
		}
		return nil, statusError(p.Name(), httpResp.StatusCode, 0, detail)
	}

	var resp ollamaResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &model.ResponseFormatError{Provider: p.Name(), Raw: string(respBody), Err: fmt.Errorf("unmarshal response: %w", err)}
	}

	return &resp, nil
}
