package model

import (
	"fmt"
	"strings"
)

// AttitudeMode selects the framing template applied to the prompt
type AttitudeMode string

const (
	AttitudeArgumentative AttitudeMode = "argumentative"
	AttitudeBalanced      AttitudeMode = "balanced"
	AttitudeHelpful       AttitudeMode = "helpful"
)

// Attitudes lists every supported attitude in display order
var Attitudes = []AttitudeMode{AttitudeArgumentative, AttitudeBalanced, AttitudeHelpful}

// ParseAttitude converts user input into an AttitudeMode
func ParseAttitude(s string) (AttitudeMode, error) {
	switch AttitudeMode(strings.ToLower(strings.TrimSpace(s))) {
	case AttitudeArgumentative:
		return AttitudeArgumentative, nil
	case AttitudeBalanced, "":
		return AttitudeBalanced, nil
	case AttitudeHelpful:
		return AttitudeHelpful, nil
	}
	return "", &ValidationError{Field: "attitude", Reason: fmt.Sprintf("unknown attitude %q (supported: argumentative, balanced, helpful)", s)}
}

// Valid reports whether a is one of the three canonical attitudes
func (a AttitudeMode) Valid() bool {
	switch a {
	case AttitudeArgumentative, AttitudeBalanced, AttitudeHelpful:
		return true
	}
	return false
}

// SourceType records where a fragment was captured from
type SourceType string

const (
	SourceSelection  SourceType = "selection"
	SourceScreenshot SourceType = "screenshot"
	SourceClipboard  SourceType = "clipboard"
)

// ParseSource converts user input into a SourceType
func ParseSource(s string) (SourceType, error) {
	switch SourceType(strings.ToLower(strings.TrimSpace(s))) {
	case SourceSelection, "":
		return SourceSelection, nil
	case SourceScreenshot:
		return SourceScreenshot, nil
	case SourceClipboard:
		return SourceClipboard, nil
	}
	return "", &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source type %q (supported: selection, screenshot, clipboard)", s)}
}

// AnalysisRequest is one fragment submitted for analysis.
// Treat it as a value: it is copied, never mutated after construction.
type AnalysisRequest struct {
	Text       string       `json:"text"`
	Attitude   AttitudeMode `json:"attitude_mode"`
	SourceType SourceType   `json:"source_type"`
	Context    string       `json:"context,omitempty"`
}

// NewRequest builds a request, defaulting attitude and source
func NewRequest(text string, attitude AttitudeMode, source SourceType, context string) AnalysisRequest {
	if attitude == "" {
		attitude = AttitudeBalanced
	}
	if source == "" {
		source = SourceSelection
	}
	return AnalysisRequest{
		Text:       text,
		Attitude:   attitude,
		SourceType: source,
		Context:    context,
	}
}

// Validate checks the request before any provider is contacted
func (r AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return &ValidationError{Field: "text", Reason: "text must not be empty"}
	}
	if !r.Attitude.Valid() {
		return &ValidationError{Field: "attitude", Reason: fmt.Sprintf("unknown attitude %q", r.Attitude)}
	}
	return nil
}
