package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestFingerprintOf_IgnoresContextAndSource(t *testing.T) {
	a := NewRequest("The moon is made of cheese", AttitudeBalanced, SourceSelection, "")
	b := NewRequest("The moon is made of cheese", AttitudeBalanced, SourceClipboard, "from a blog post")

	if FingerprintOf(a) != FingerprintOf(b) {
		t.Errorf("Expected identical fingerprints, got %s and %s", FingerprintOf(a), FingerprintOf(b))
	}
}

func TestFingerprintOf_DependsOnAttitude(t *testing.T) {
	a := NewRequest("claim", AttitudeBalanced, "", "")
	b := NewRequest("claim", AttitudeHelpful, "", "")

	if FingerprintOf(a) == FingerprintOf(b) {
		t.Error("Expected different fingerprints for different attitudes")
	}
}

func TestFingerprintOf_Format(t *testing.T) {
	fp := FingerprintOf(NewRequest("x", "", "", ""))
	if len(fp) != 64 {
		t.Fatalf("Expected 64 hex chars, got %d", len(fp))
	}
	parsed, err := ParseFingerprint(string(fp))
	if err != nil {
		t.Fatalf("ParseFingerprint failed: %v", err)
	}
	if parsed != fp {
		t.Errorf("Round trip mismatch: %s != %s", parsed, fp)
	}
	if fp.Short() != string(fp[:12]) {
		t.Errorf("Unexpected short form %s", fp.Short())
	}
}

func TestParseFingerprint_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "zz" + string(make([]byte, 62))} {
		if _, err := ParseFingerprint(in); err == nil {
			t.Errorf("Expected error for %q", in)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     AnalysisRequest
		wantErr bool
	}{
		{"ok", NewRequest("text", AttitudeHelpful, "", ""), false},
		{"empty", NewRequest("", AttitudeHelpful, "", ""), true},
		{"whitespace", NewRequest(" \n\t ", AttitudeHelpful, "", ""), true},
		{"bad attitude", AnalysisRequest{Text: "x", Attitude: "snarky"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("Expected ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestParseAttitude(t *testing.T) {
	if a, err := ParseAttitude(" Argumentative "); err != nil || a != AttitudeArgumentative {
		t.Errorf("Got %q, %v", a, err)
	}
	if a, err := ParseAttitude(""); err != nil || a != AttitudeBalanced {
		t.Errorf("Expected balanced default, got %q, %v", a, err)
	}
	if _, err := ParseAttitude("rude"); err == nil {
		t.Error("Expected error for unknown attitude")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorClass
	}{
		{&ValidationError{Reason: "x"}, ClassValidation},
		{&TransportError{Provider: "p", Err: errors.New("boom")}, ClassTransport},
		{fmt.Errorf("wrapped: %w", &RateLimitError{Provider: "p"}), ClassRateLimit},
		{&ResponseFormatError{Provider: "p", Err: errors.New("bad json")}, ClassFormat},
		{&TimeoutError{Provider: "p"}, ClassTimeout},
		{context.DeadlineExceeded, ClassTimeout},
		{&CancelledError{Cause: context.Canceled}, ClassCancelled},
		{context.Canceled, ClassCancelled},
		{errors.New("mystery"), ClassTransport},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}

	if ClassValidation.Retryable() || ClassCancelled.Retryable() {
		t.Error("validation and cancellation must not be retryable")
	}
	if !ClassFormat.Retryable() || !ClassTimeout.Retryable() {
		t.Error("format and timeout must be retryable")
	}
}

func TestExhaustedError_Message(t *testing.T) {
	err := &ExhaustedError{Attempts: []Attempt{
		{Provider: "a", Class: ClassTransport, Reason: "down"},
		{Provider: "b", Class: ClassRateLimit, Reason: "429"},
	}}
	want := "all 2 providers failed: a (transport): down; b (rate_limit): 429"
	if err.Error() != want {
		t.Errorf("Got %q, want %q", err.Error(), want)
	}
}
