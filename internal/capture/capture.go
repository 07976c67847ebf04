// Package capture obtains the text fragment to analyse from the user's input:
// an argument, stdin, a file, an HTML document or a web page.
package capture

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/bsmeter/internal/model"
)

// DefaultMaxBytes caps how much input a source reads
const DefaultMaxBytes = 1 << 20

// Fragment is captured text plus where it came from
type Fragment struct {
	Text   string
	Source model.SourceType

	// Origin describes the input (file path, URL) for display and as default context
	Origin string
}

// Source supplies a fragment on demand. It fails with *model.NoTextAvailableError
// when there is nothing to analyse.
type Source interface {
	Capture(ctx context.Context) (*Fragment, error)
}

// Text is a fixed fragment, usually a command-line argument
type Text struct {
	Value  string
	Kind   model.SourceType
	Origin string
}

// Capture returns the fixed text
func (t Text) Capture(ctx context.Context) (*Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fragment(t.Value, t.Kind, t.Origin, "argument")
}

// Reader reads the whole fragment from r, up to MaxBytes
type Reader struct {
	R        io.Reader
	Kind     model.SourceType
	Origin   string
	MaxBytes int64
}

// Capture reads r to EOF
func (r Reader) Capture(ctx context.Context) (*Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r.R, maxBytes(r.MaxBytes)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", originOr(r.Origin, "input"), err)
	}
	return fragment(string(data), r.Kind, r.Origin, originOr(r.Origin, "input"))
}

func fragment(text string, kind model.SourceType, origin, label string) (*Fragment, error) {
	text = strings.TrimSpace(strings.ToValidUTF8(text, ""))
	if text == "" {
		return nil, &model.NoTextAvailableError{Source: label}
	}
	if kind == "" {
		kind = model.SourceSelection
	}
	return &Fragment{Text: text, Source: kind, Origin: origin}, nil
}

func maxBytes(n int64) int64 {
	if n <= 0 {
		return DefaultMaxBytes
	}
	return n
}

func originOr(origin, fallback string) string {
	if origin != "" {
		return origin
	}
	return fallback
}
