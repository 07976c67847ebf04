package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/bsmeter/internal/model"
)

// MockProvider implements the Provider interface for testing
type MockProvider struct {
	name      string
	available bool
	result    *model.AnalysisResult
	err       error
	calls     atomic.Int32
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *MockProvider) IsAvailable() bool {
	return m.available
}

func TestLimiter_WrapZeroRate(t *testing.T) {
	mock := &MockProvider{name: "mock", available: true}
	l := NewLimiter()

	if got := l.Wrap(mock, 0, 0); got != Provider(mock) {
		t.Error("Expected provider returned unchanged for zero rate")
	}
}

func TestLimiter_RateLimitedPassesThrough(t *testing.T) {
	mock := &MockProvider{name: "mock", available: true, result: &model.AnalysisResult{Verdict: "true"}}
	l := NewLimiter()
	p := l.Wrap(mock, 100, 1)

	if p.Name() != "mock" || !p.IsAvailable() {
		t.Error("Expected name and availability to be delegated")
	}
	if Unwrap(p) != Provider(mock) {
		t.Error("Expected Unwrap to return the inner provider")
	}

	res, err := p.Analyze(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Verdict != "true" {
		t.Errorf("Unexpected result %+v", res)
	}
}

func TestLimiter_DeadlineBecomesRateLimitError(t *testing.T) {
	mock := &MockProvider{name: "mock", available: true, result: &model.AnalysisResult{}}
	l := NewLimiter()
	p := l.Wrap(mock, 0.1, 1) // one token per 10s

	if _, err := p.Analyze(context.Background(), sampleRequest()); err != nil {
		t.Fatalf("First call should consume the burst: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Analyze(ctx, sampleRequest())
	var rl *model.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("Expected RateLimitError, got %T: %v", err, err)
	}
	if mock.calls.Load() != 1 {
		t.Errorf("Expected 1 underlying call, got %d", mock.calls.Load())
	}
}

func TestLimiter_SharedBucketAcrossWraps(t *testing.T) {
	l := NewLimiter()
	a := l.Wrap(&MockProvider{name: "same"}, 5, 2).(*RateLimited)
	b := l.Wrap(&MockProvider{name: "same"}, 5, 2).(*RateLimited)

	if a.limiter != b.limiter {
		t.Error("Expected the same bucket for the same provider name")
	}

	c := l.Wrap(&MockProvider{name: "same"}, 10, 3).(*RateLimited)
	if c.limiter != a.limiter || c.limiter.Burst() != 3 {
		t.Error("Expected the bucket to be retuned in place")
	}
}

func TestLimiter_ValidationBeforeToken(t *testing.T) {
	mock := &MockProvider{name: "mock"}
	p := NewLimiter().Wrap(mock, 1, 1)

	_, err := p.Analyze(context.Background(), model.NewRequest("", model.AttitudeBalanced, "", ""))
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if mock.calls.Load() != 0 {
		t.Error("Expected no underlying call")
	}
}

func TestNewProvider_Types(t *testing.T) {
	p, err := NewProvider(Config{Type: "ollama", Name: "local", Model: "m"})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if p.Name() != "local" {
		t.Errorf("Expected name local, got %s", p.Name())
	}

	if _, err := NewProvider(Config{Type: "openai"}); err == nil {
		t.Error("Expected error for openai without key")
	}
	if _, err := NewProvider(Config{Type: "bogus"}); err == nil {
		t.Error("Expected error for unknown type")
	}
	if RequiresKey("ollama") || !RequiresKey("gemini") {
		t.Error("Unexpected RequiresKey result")
	}
}
