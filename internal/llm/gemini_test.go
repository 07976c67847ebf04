package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/bsmeter/internal/model"
)

func TestGeminiProvider_Analyze_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.0-flash:generateContent") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		resp := map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role":  "model",
						"parts": []map[string]string{{"text": sampleAnalysisJSON}},
					},
					"finishReason": "STOP",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(Config{APIKey: "test-key", BaseURL: server.URL, Model: "gemini-2.0-flash", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	res, err := provider.Analyze(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	assertSampleResult(t, res, "gemini")
}

func TestGeminiProvider_Analyze_EmptyText(t *testing.T) {
	provider, err := NewGeminiProvider(Config{APIKey: "test-key", BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	_, err = provider.Analyze(context.Background(), model.NewRequest("", model.AttitudeBalanced, "", ""))
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestNewGeminiProvider_MissingKey(t *testing.T) {
	if _, err := NewGeminiProvider(Config{}); err == nil {
		t.Fatal("Expected error without API key")
	}
}
