package model

import "time"

// AnalysisResult is the canonical output of any provider
type AnalysisResult struct {
	Verdict          string    `json:"verdict"`
	Explanation      string    `json:"explanation"`
	CounterArguments []string  `json:"counter_arguments"`
	LogicalFallacies []string  `json:"logical_fallacies,omitempty"`
	Recommendations  []string  `json:"recommendations,omitempty"`
	ConfidenceScore  float64   `json:"confidence_score"`
	ProviderUsed     string    `json:"provider_used"`
	CreatedAt        time.Time `json:"created_at"`
}

// AnalysisRecord is the persisted unit keyed by fingerprint
type AnalysisRecord struct {
	Fingerprint Fingerprint     `json:"fingerprint"`
	Request     AnalysisRequest `json:"request"`
	Result      AnalysisResult  `json:"result"`
	Tags        []string        `json:"tags"`
}

// HasTag reports whether the record carries tag (already normalised)
func (r *AnalysisRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hold records without sharing slices
func (r *AnalysisRecord) Clone() *AnalysisRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Result.CounterArguments = cloneStrings(r.Result.CounterArguments)
	c.Result.LogicalFallacies = cloneStrings(r.Result.LogicalFallacies)
	c.Result.Recommendations = cloneStrings(r.Result.Recommendations)
	c.Tags = cloneStrings(r.Tags)
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
