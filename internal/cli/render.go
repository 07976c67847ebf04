package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/ppiankov/bsmeter/internal/orchestrator"
)

const rule = "═══════════════════════════════════════════════════════════"

// outcomeJSON is the --json shape of one analysis
type outcomeJSON struct {
	*model.AnalysisRecord
	Cached   bool            `json:"cached"`
	Shared   bool            `json:"shared,omitempty"`
	Attempts []model.Attempt `json:"attempts,omitempty"`
	Warning  string          `json:"warning,omitempty"`
}

func toJSON(out *orchestrator.Outcome) outcomeJSON {
	j := outcomeJSON{
		AnalysisRecord: out.Record,
		Cached:         out.Cached,
		Shared:         out.Shared,
		Attempts:       out.Attempts,
	}
	if out.Warning != nil {
		j.Warning = out.Warning.Error()
	}
	return j
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// renderOutcome prints a human-readable analysis
func renderOutcome(w io.Writer, out *orchestrator.Outcome) {
	rec := out.Record
	res := rec.Result

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  Verdict: %s\n", strings.ToUpper(orDash(res.Verdict)))
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)

	if res.Explanation != "" {
		fmt.Fprintln(w, wrap(res.Explanation, 76, "  "))
		fmt.Fprintln(w)
	}

	renderList(w, "Counter-arguments", res.CounterArguments)
	renderList(w, "Logical fallacies", res.LogicalFallacies)
	renderList(w, "Recommendations", res.Recommendations)

	fmt.Fprintf(w, "  Confidence:  %.0f%%\n", res.ConfidenceScore*100)
	fmt.Fprintf(w, "  Provider:    %s\n", orDash(res.ProviderUsed))
	fmt.Fprintf(w, "  Attitude:    %s\n", rec.Request.Attitude)
	fmt.Fprintf(w, "  Fingerprint: %s\n", rec.Fingerprint.Short())
	if len(rec.Tags) > 0 {
		fmt.Fprintf(w, "  Tags:        %s\n", strings.Join(rec.Tags, ", "))
	}

	switch {
	case out.Cached:
		fmt.Fprintf(w, "  Stored:      %s (from history)\n", res.CreatedAt.Local().Format(time.DateTime))
	case out.Shared:
		fmt.Fprintln(w, "  Stored:      shared with a concurrent request")
	}
	if len(out.Attempts) > 0 {
		fmt.Fprintf(w, "  Fallbacks:   %d provider(s) failed first\n", len(out.Attempts))
	}
	if out.Warning != nil {
		fmt.Fprintf(w, "  Warning:     %v\n", out.Warning)
	}
	fmt.Fprintln(w)
}

func renderList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "    • %s\n", it)
	}
	fmt.Fprintln(w)
}

// renderFailure explains an analysis error. ExhaustedError lists every attempt.
func renderFailure(w io.Writer, err error) {
	var ex *model.ExhaustedError
	if errors.As(err, &ex) {
		fmt.Fprintf(w, "✗ All %d providers failed:\n", len(ex.Attempts))
		for i, a := range ex.Attempts {
			fmt.Fprintf(w, "  %d. %-12s %-10s %s\n", i+1, a.Provider, a.Class, a.Reason)
		}
		return
	}

	var np *model.NoProviderAvailableError
	if errors.As(err, &np) {
		fmt.Fprintln(w, "✗ No provider is enabled and available.")
		fmt.Fprintln(w, "  Set OPENAI_API_KEY, ANTHROPIC_API_KEY or GEMINI_API_KEY, or start Ollama,")
		fmt.Fprintln(w, "  then check 'bsmeter providers status'.")
		return
	}

	fmt.Fprintf(w, "✗ %v\n", err)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// wrap breaks text into lines of at most width runes, each prefixed with indent
func wrap(text string, width int, indent string) string {
	var b strings.Builder
	for pi, para := range strings.Split(text, "\n") {
		if pi > 0 {
			b.WriteByte('\n')
		}
		line := 0
		b.WriteString(indent)
		for i, word := range strings.Fields(para) {
			n := len([]rune(word))
			if i > 0 && line+1+n > width {
				b.WriteByte('\n')
				b.WriteString(indent)
				line = 0
			} else if i > 0 {
				b.WriteByte(' ')
				line++
			}
			b.WriteString(word)
			line += n
		}
	}
	return b.String()
}
