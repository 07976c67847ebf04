package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/ppiankov/bsmeter/internal/worker"
)

var (
	concurrency  int
	batchTimeout time.Duration
	batchJSON    bool
	watchConfig  bool
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Analyse many fragments from a file in parallel",
	Long: `Batch analyses every fragment in a file, one per line, concurrently.
Blank lines and lines starting with # are skipped; duplicate lines are
analysed once. Fragments already in history are answered from it.

With --watch-config, edits to the config file during the run replace the
provider set for fragments that have not started yet.

Example:
  bsmeter batch claims.txt
  bsmeter batch claims.txt --concurrency 8 --attitude argumentative
  bsmeter batch claims.txt --json > results.json`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent workers (default analysis.workers from config)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().StringVarP(&attitudeFlag, "attitude", "a", "", "argumentative, balanced or helpful (default from config)")
	batchCmd.Flags().StringVar(&sourceFlag, "source", "selection", "source type recorded for every fragment")
	batchCmd.Flags().BoolVar(&batchJSON, "json", false, "print all analyses as a JSON array")
	batchCmd.Flags().BoolVar(&watchConfig, "watch-config", false, "reload providers when the config file changes")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

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

	workers := concurrency
	if workers <= 0 {
		workers = a.cfg.Analysis.Workers
	}

	if watchConfig {
		watchProviders(a)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", rule)
	fmt.Fprintf(os.Stderr, "  bsmeter Batch Analysis\n")
	fmt.Fprintf(os.Stderr, "%s\n", rule)
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(os.Stderr, "  Attitude:     %s\n", attitude)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	var done atomic.Int32
	processor := worker.NewBatchProcessor(a.orch, workers)
	processor.OnResult(func(r *worker.AnalyzeResult) {
		n := done.Add(1)
		if r.Error != nil {
			fmt.Fprintf(os.Stderr, "✗ [%d] %s: %v\n", n, preview(r.Text, 50), r.Error)
			return
		}
		mark := ""
		if r.Outcome.Cached {
			mark = " (history)"
		}
		fmt.Fprintf(os.Stderr, "✓ [%d] %s → %s%s\n", n, preview(r.Text, 50), r.Outcome.Record.Result.Verdict, mark)
	})

	fmt.Fprintf(os.Stderr, "⚙️  Processing fragments with %d workers...\n", workers)
	fmt.Fprintf(os.Stderr, "\n")

	results, err := processor.ProcessFile(ctx, file, attitude, kind)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	successCount, cachedCount, failureCount := 0, 0, 0
	analyses := make([]outcomeJSON, 0, len(results))
	for _, r := range results {
		if r.Error != nil {
			failureCount++
			continue
		}
		successCount++
		if r.Outcome.Cached {
			cachedCount++
		}
		analyses = append(analyses, toJSON(r.Outcome))
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", rule)
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "%s\n", rule)
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:        %d fragments\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:      %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  From history: %d\n", cachedCount)
	fmt.Fprintf(os.Stderr, "  Failures:     %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "\n")

	if batchJSON {
		if err := writeJSON(os.Stdout, analyses); err != nil {
			return err
		}
	}
	if failureCount > 0 && successCount == 0 {
		return fmt.Errorf("all %d fragments failed", failureCount)
	}
	return nil
}

// watchProviders reloads the provider registry when the config file changes.
// A config that fails to parse keeps the previous providers.
func watchProviders(a *app) {
	if viper.ConfigFileUsed() == "" {
		fmt.Fprintf(os.Stderr, "⚠️  No config file to watch\n")
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := loadConfig()
		if err != nil {
			a.logger.Warn("ignoring config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := a.registry.Reload(cfg.Providers); err != nil {
			a.logger.Warn("ignoring provider change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		fmt.Fprintf(os.Stderr, "⚙️  Reloaded providers from %s\n", e.Name)
	})
	viper.WatchConfig()
}

// preview shortens text to n runes on one line
func preview(text string, n int) string {
	r := []rune(text)
	for i, c := range r {
		if c == '\n' || c == '\r' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
