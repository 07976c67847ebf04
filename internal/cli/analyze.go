package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/bsmeter/internal/capture"
	"github.com/ppiankov/bsmeter/internal/model"
)

var (
	attitudeFlag   string
	contextFlag    string
	sourceFlag     string
	inputFile      string
	inputURL       string
	inputHTML      bool
	outputJSON     bool
	analyzeTimeout time.Duration
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze [text...]",
	Short: "Analyse a text fragment",
	Long: `Analyze sends one fragment to the highest-priority available provider
and prints the verdict. If that provider fails, the next one is tried.
A fragment that was analysed before is answered from history.

The fragment is read from the arguments, --file, --url or stdin.

Example:
  bsmeter analyze "Vaccines cause autism"
  bsmeter analyze --attitude argumentative --file claim.txt
  bsmeter analyze --url https://example.com/article --json
  pbpaste | bsmeter analyze --source clipboard`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&attitudeFlag, "attitude", "a", "", "argumentative, balanced or helpful (default from config)")
	analyzeCmd.Flags().StringVar(&contextFlag, "context", "", "extra context for the provider (does not affect dedup)")
	analyzeCmd.Flags().StringVar(&sourceFlag, "source", "selection", "where the text came from: selection, screenshot, clipboard")
	analyzeCmd.Flags().StringVarP(&inputFile, "file", "f", "", "read the fragment from a file (.html files are reduced to visible text)")
	analyzeCmd.Flags().StringVar(&inputURL, "url", "", "fetch a web page and analyse its visible text")
	analyzeCmd.Flags().BoolVar(&inputHTML, "html", false, "treat stdin as HTML")
	analyzeCmd.Flags().BoolVar(&outputJSON, "json", false, "print the analysis as JSON")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 0, "overall deadline (default analysis.deadline from config)")

	analyzeCmd.MarkFlagsMutuallyExclusive("file", "url")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if analyzeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, analyzeTimeout)
		defer cancel()
	}

	a, err := newApp(ctx, progressObserver)
	if err != nil {
		return err
	}
	defer a.Close()

	attitude, err := model.ParseAttitude(firstNonEmpty(attitudeFlag, a.cfg.Analysis.DefaultAttitude))
	if err != nil {
		return err
	}
	kind, err := model.ParseSource(sourceFlag)
	if err != nil {
		return err
	}

	src, err := inputSource(input{
		args:    args,
		file:    inputFile,
		url:     inputURL,
		html:    inputHTML,
		kind:    kind,
		stdin:   os.Stdin,
		piped:   stdinIsPiped(),
		capture: a.cfg.Capture,
	})
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "⚙️  Reading input...\n")
	}
	frag, err := src.Capture(ctx)
	if err != nil {
		return err
	}

	reqContext := contextFlag
	if reqContext == "" && frag.Origin != "" {
		reqContext = "Captured from " + frag.Origin
	}
	req := model.NewRequest(frag.Text, attitude, frag.Source, reqContext)

	out, err := a.orch.Analyze(ctx, req)
	if err != nil {
		renderFailure(os.Stderr, err)
		return fmt.Errorf("analysis failed: %w", err)
	}

	if outputJSON {
		return writeJSON(os.Stdout, toJSON(out))
	}
	renderOutcome(os.Stdout, out)
	return nil
}

// input describes where analyze should read its fragment from
type input struct {
	args    []string
	file    string
	url     string
	html    bool
	kind    model.SourceType
	stdin   io.Reader
	piped   bool
	capture model.CaptureConfig
}

// inputSource picks the capture source: --url, then --file, then arguments, then stdin
func inputSource(in input) (capture.Source, error) {
	switch {
	case in.url != "":
		return capture.URL{
			Fetcher: capture.NewFetcher(capture.FetcherConfig{
				Timeout:       in.capture.FetchTimeout,
				MaxBytes:      in.capture.MaxBytes,
				RespectRobots: in.capture.RespectRobots,
			}),
			Address: in.url,
		}, nil
	case in.file != "":
		return capture.File{Path: in.file, Kind: in.kind, MaxBytes: in.capture.MaxBytes}, nil
	case len(in.args) > 0:
		return capture.Text{Value: strings.Join(in.args, " "), Kind: in.kind}, nil
	case in.piped && in.html:
		return capture.HTML{R: in.stdin, Kind: in.kind, MaxBytes: in.capture.MaxBytes}, nil
	case in.piped:
		return capture.Reader{R: in.stdin, Kind: in.kind, MaxBytes: in.capture.MaxBytes}, nil
	}
	return nil, fmt.Errorf("nothing to analyse: pass text, --file, --url or pipe text on stdin")
}

// stdinIsPiped reports whether stdin is a pipe or file rather than a terminal
func stdinIsPiped() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice == 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
