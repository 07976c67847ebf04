package llm

import (
	"testing"

	"github.com/ppiankov/bsmeter/internal/model"
)

const sampleAnalysisJSON = `{
  "verdict": "Mostly False",
  "explanation": "The claim overstates the effect size reported in the cited study.",
  "counter_arguments": ["The study sample was small", "Later replications found no effect"],
  "logical_fallacies": ["hasty generalization"],
  "confidence_score": 0.8,
  "recommendations": ["Read the original paper"]
}`

func sampleRequest() model.AnalysisRequest {
	return model.NewRequest("Coffee cures cancer, a study shows.", model.AttitudeBalanced, model.SourceSelection, "")
}

func assertSampleResult(t *testing.T, res *model.AnalysisResult, provider string) {
	t.Helper()
	if res.Verdict != "mostly_false" {
		t.Errorf("Unexpected verdict: %s", res.Verdict)
	}
	if res.Explanation != "The claim overstates the effect size reported in the cited study." {
		t.Errorf("Unexpected explanation: %s", res.Explanation)
	}
	if len(res.CounterArguments) != 2 {
		t.Errorf("Expected 2 counter arguments, got %v", res.CounterArguments)
	}
	if res.ConfidenceScore != 0.8 {
		t.Errorf("Unexpected confidence: %v", res.ConfidenceScore)
	}
	if res.ProviderUsed != provider {
		t.Errorf("Expected provider %s, got %s", provider, res.ProviderUsed)
	}
	if res.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}
}
