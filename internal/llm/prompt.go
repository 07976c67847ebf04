package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/bsmeter/internal/model"
)

// Prompt is the provider-neutral instruction pair sent to a backend
type Prompt struct {
	System string
	User   string
}

var attitudeTemplates = map[model.AttitudeMode]string{
	model.AttitudeArgumentative: `You are a sharp, skeptical fact-checker. Be particularly aggressive in finding flaws and counter-arguments. Challenge every claim vigorously and do not give the author the benefit of the doubt.`,
	model.AttitudeBalanced:      `You are a careful, impartial fact-checker. Provide a balanced analysis that considers multiple viewpoints fairly, noting what holds up as well as what does not.`,
	model.AttitudeHelpful:       `You are a patient, constructive fact-checker. Be constructive and educational: explain problems clearly and suggest how the claim could be stated more accurately.`,
}

const responseInstructions = `Analyze the text for factual accuracy, weak reasoning and missing context.

Respond with a single JSON object and nothing else, using exactly these fields:
{
  "verdict": one of "true", "mostly_true", "mixed", "mostly_false", "false", "misleading", "opinion", "unverifiable",
  "explanation": "2-4 sentences explaining the verdict",
  "counter_arguments": ["strongest counter-argument", "..."],
  "logical_fallacies": ["fallacy name: where it occurs", "..."],
  "confidence_score": a number between 0.0 and 1.0,
  "recommendations": ["what the reader should verify or keep in mind", "..."]
}

Use empty arrays when nothing applies. Do not wrap the JSON in markdown.`

// AttitudeTemplate returns the framing instruction for an attitude.
// Unknown attitudes get the balanced template.
func AttitudeTemplate(a model.AttitudeMode) string {
	if t, ok := attitudeTemplates[a]; ok {
		return t
	}
	return attitudeTemplates[model.AttitudeBalanced]
}

// BuildPrompt constructs the prompt for a request: attitude template first, then the
// response contract, then the fragment and any user context.
func BuildPrompt(req model.AnalysisRequest) Prompt {
	system := AttitudeTemplate(req.Attitude) + "\n\n" + responseInstructions

	var user strings.Builder
	fmt.Fprintf(&user, "Text to analyze:\n\"\"\"\n%s\n\"\"\"", strings.TrimSpace(req.Text))
	if ctx := strings.TrimSpace(req.Context); ctx != "" {
		fmt.Fprintf(&user, "\n\nAdditional context: %s", ctx)
	}

	return Prompt{System: system, User: user.String()}
}

// Flatten joins system and user parts for backends with a single prompt field
func (p Prompt) Flatten() string {
	return p.System + "\n\n" + p.User + "\n\nProvide your analysis:"
}
