package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/bsmeter/internal/model"
)

// DefaultVerdict is used when a backend omits the verdict label
const DefaultVerdict = "unverifiable"

var (
	errNoJSON          = errors.New("no JSON object in response")
	errNoExplanation   = errors.New("missing explanation")
	errNoConfidence    = errors.New("missing confidence_score")
	errBadConfidence   = errors.New("confidence_score is not a number")
	errEmptyCompletion = errors.New("empty completion")
)

type rawAnalysis struct {
	Verdict          string          `json:"verdict"`
	Explanation      string          `json:"explanation"`
	Summary          string          `json:"summary"`
	FactCheck        string          `json:"fact_check"`
	CounterArguments stringList      `json:"counter_arguments"`
	LogicalFallacies stringList      `json:"logical_fallacies"`
	Recommendations  stringList      `json:"recommendations"`
	ConfidenceScore  json.RawMessage `json:"confidence_score"`
}

// stringList accepts a JSON array of scalars or a single string
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single = strings.TrimSpace(single); single != "" {
			*s = stringList{single}
		} else {
			*s = stringList{}
		}
		return nil
	}

	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(stringList, 0, len(items))
	for _, item := range items {
		var text string
		switch v := item.(type) {
		case nil:
			continue
		case string:
			text = v
		default:
			b, _ := json.Marshal(v)
			text = string(b)
		}
		if text = strings.TrimSpace(text); text != "" {
			out = append(out, text)
		}
	}
	*s = out
	return nil
}

// ParseAnalysis converts raw completion text into the canonical result.
// Fences and prose around the JSON object are tolerated.
func ParseAnalysis(provider, raw string) (*model.AnalysisResult, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &model.ResponseFormatError{Provider: provider, Raw: raw, Err: errEmptyCompletion}
	}

	body, ok := extractJSONObject(raw)
	if !ok {
		return nil, &model.ResponseFormatError{Provider: provider, Raw: raw, Err: errNoJSON}
	}

	var ra rawAnalysis
	if err := json.Unmarshal([]byte(body), &ra); err != nil {
		return nil, &model.ResponseFormatError{Provider: provider, Raw: raw, Err: fmt.Errorf("decode: %w", err)}
	}

	explanation := firstNonEmpty(ra.Explanation, ra.Summary, ra.FactCheck)
	if explanation == "" {
		return nil, &model.ResponseFormatError{Provider: provider, Raw: raw, Err: errNoExplanation}
	}

	confidence, err := parseConfidence(ra.ConfidenceScore)
	if err != nil {
		return nil, &model.ResponseFormatError{Provider: provider, Raw: raw, Err: err}
	}

	counter := []string(ra.CounterArguments)
	if counter == nil {
		counter = []string{}
	}

	return &model.AnalysisResult{
		Verdict:          NormalizeVerdict(ra.Verdict),
		Explanation:      explanation,
		CounterArguments: counter,
		LogicalFallacies: []string(ra.LogicalFallacies),
		Recommendations:  []string(ra.Recommendations),
		ConfidenceScore:  confidence,
		ProviderUsed:     provider,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// NormalizeVerdict lowercases and snake-cases a verdict label
func NormalizeVerdict(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return DefaultVerdict
	}
	v = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-' || r == '_' || r == '/':
			return '_'
		}
		return -1
	}, v)
	for strings.Contains(v, "__") {
		v = strings.ReplaceAll(v, "__", "_")
	}
	v = strings.Trim(v, "_")
	if v == "" {
		return DefaultVerdict
	}
	return v
}

// parseConfidence accepts 0..1 or a 0..100 percentage, as a number or numeric string
func parseConfidence(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errNoConfidence
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errBadConfidence
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, errBadConfidence
		}
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errBadConfidence
	}
	if f > 1 {
		f /= 100
	}
	return math.Max(0, math.Min(1, f)), nil
}

// extractJSONObject strips markdown fences and returns the outermost {...} span
func extractJSONObject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
