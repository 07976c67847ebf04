package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/ppiankov/bsmeter/internal/orchestrator"
)

// MockAnalyzer implements Analyzer
type MockAnalyzer struct {
	FailOn string
	calls  atomic.Int32
}

func (m *MockAnalyzer) Analyze(ctx context.Context, req model.AnalysisRequest) (*orchestrator.Outcome, error) {
	m.calls.Add(1)
	time.Sleep(5 * time.Millisecond) // Simulate work
	if req.Text == m.FailOn {
		return nil, &model.ExhaustedError{Attempts: []model.Attempt{{Provider: "openai", Class: model.ClassTransport, Reason: "down"}}}
	}
	return &orchestrator.Outcome{
		Record: &model.AnalysisRecord{
			Fingerprint: model.FingerprintOf(req),
			Request:     req,
			Result:      model.AnalysisResult{Verdict: "false", ProviderUsed: "openai"},
		},
	}, nil
}

func requests(texts ...string) []model.AnalysisRequest {
	out := make([]model.AnalysisRequest, 0, len(texts))
	for _, t := range texts {
		out = append(out, model.NewRequest(t, model.AttitudeBalanced, model.SourceSelection, ""))
	}
	return out
}

func TestBatchProcessor_Process(t *testing.T) {
	analyzer := &MockAnalyzer{}
	processor := NewBatchProcessor(analyzer, 2)

	texts := []string{"claim one", "claim two", "claim three", "claim four", "claim five"}
	results := processor.Process(context.Background(), requests(texts...))

	if len(results) != len(texts) {
		t.Fatalf("expected %d results, got %d", len(texts), len(results))
	}
	for i, res := range results {
		if res.Index != i || res.Text != texts[i] {
			t.Errorf("result %d out of order: %+v", i, res)
		}
		if res.Error != nil {
			t.Errorf("unexpected error for %q: %v", res.Text, res.Error)
		}
		if res.Outcome == nil || res.Outcome.Record.Request.Text != texts[i] {
			t.Errorf("expected outcome for %q", texts[i])
		}
	}
}

func TestBatchProcessor_Process_Error(t *testing.T) {
	analyzer := &MockAnalyzer{FailOn: "bad"}
	processor := NewBatchProcessor(analyzer, 2)

	var progress atomic.Int32
	processor.OnResult(func(*AnalyzeResult) { progress.Add(1) })

	results := processor.Process(context.Background(), requests("good", "bad"))
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	if results[0].Error != nil {
		t.Errorf("unexpected error: %v", results[0].Error)
	}
	var ex *model.ExhaustedError
	if !errors.As(results[1].GetError(), &ex) {
		t.Errorf("expected ExhaustedError, got %v", results[1].Error)
	}
	if results[1].Outcome != nil {
		t.Error("expected nil outcome on error")
	}
	if progress.Load() != 2 {
		t.Errorf("expected 2 progress callbacks, got %d", progress.Load())
	}
}

func TestBatchProcessor_Process_Empty(t *testing.T) {
	processor := NewBatchProcessor(&MockAnalyzer{}, 2)

	results := processor.Process(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func TestReadFragments(t *testing.T) {
	content := `Vaccines cause autism
# comment
The moon landing was staged
   
Vaccines cause autism
  Coffee stunts growth   `

	fragments, err := ReadFragments(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ReadFragments failed: %v", err)
	}

	expected := []string{"Vaccines cause autism", "The moon landing was staged", "Coffee stunts growth"}
	if len(fragments) != len(expected) {
		t.Fatalf("expected %d fragments, got %d", len(expected), len(fragments))
	}
	for i, f := range fragments {
		if f != expected[i] {
			t.Errorf("expected %q at index %d, got %q", expected[i], i, f)
		}
	}
}

func TestReadFragmentsFromFile_NonExistent(t *testing.T) {
	_, err := ReadFragmentsFromFile("non_existent_file.txt")
	if err == nil {
		t.Error("expected error for non-existent file, got nil")
	}
}

func TestBatchProcessor_ProcessFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.txt")
	content := "first claim\nsecond claim\n# comment\n\nthird claim\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	analyzer := &MockAnalyzer{}
	processor := NewBatchProcessor(analyzer, 2)

	results, err := processor.ProcessFile(context.Background(), path, model.AttitudeHelpful, model.SourceClipboard)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if got := results[2].Outcome.Record.Request; got.Attitude != model.AttitudeHelpful || got.SourceType != model.SourceClipboard {
		t.Errorf("request not built from flags: %+v", got)
	}
	if analyzer.calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", analyzer.calls.Load())
	}
}

func TestBatchProcessor_ProcessFile_NonExistent(t *testing.T) {
	processor := NewBatchProcessor(&MockAnalyzer{}, 2)

	_, err := processor.ProcessFile(context.Background(), "no_such_file.txt", model.AttitudeBalanced, model.SourceSelection)
	if err == nil {
		t.Error("expected error for non-existent file, got nil")
	}
}
