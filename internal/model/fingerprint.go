package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint is the content address of a request: sha256 over text and attitude.
// Context is not part of it.
type Fingerprint string

// fingerprintVersion prefixes the hashed material so the scheme can change
// without colliding with stored keys.
const fingerprintVersion = "bsmeter:v1"

// FingerprintOf computes the dedup key for a request
func FingerprintOf(req AnalysisRequest) Fingerprint {
	h := sha256.New()
	h.Write([]byte(fingerprintVersion))
	h.Write([]byte{0})
	h.Write([]byte(string(req.Attitude)))
	h.Write([]byte{0})
	h.Write([]byte(req.Text))
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// String implements fmt.Stringer
func (f Fingerprint) String() string { return string(f) }

// Short returns the first 12 hex characters for display
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// ParseFingerprint accepts a full hex fingerprint
func ParseFingerprint(s string) (Fingerprint, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != sha256.Size*2 {
		return "", &ValidationError{Field: "fingerprint", Reason: "expected 64 hex characters"}
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", &ValidationError{Field: "fingerprint", Reason: "not hex"}
	}
	return Fingerprint(s), nil
}
