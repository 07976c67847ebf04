package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/bsmeter/internal/export"
	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/ppiankov/bsmeter/internal/store"
)

var (
	exportOut   string
	exportS3    string
	exportTag   string
	exportSince string
	importS3    bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the analysis history to a JSON document",
	Long: `Export writes stored analyses, with their tags, to a JSON file or an
S3-compatible bucket (configured under export: in the config file).

Example:
  bsmeter export --out history.json
  bsmeter export --tag health --since 720h --out health.json
  bsmeter export --s3 backups/bsmeter/history.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		q := store.Query{}
		if exportTag != "" {
			if q.Tag, err = store.NormalizeTag(exportTag); err != nil {
				return err
			}
		}
		if exportSince != "" {
			if q.Since, err = parseSince(exportSince, time.Now()); err != nil {
				return err
			}
		}

		doc, err := export.Export(cmd.Context(), a.store, q)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		if exportOut == "" && exportS3 == "" {
			return export.Encode(os.Stdout, doc)
		}

		sink, err := exportSink(a.cfg.Export, exportOut, exportS3)
		if err != nil {
			return err
		}
		if err := export.Save(cmd.Context(), doc, sink); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Exported %d analyses to %s\n", len(doc.Analyses), sink)
		return nil
	},
}

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <file | bucket/key>",
	Short: "Load analyses from an export document",
	Long: `Import adds every analysis from an export document to the history.
Analyses already present are left unchanged, so importing the same document
twice is harmless. Records whose fingerprint does not match their text are
skipped.

Example:
  bsmeter import history.json
  bsmeter import --s3 backups/bsmeter/history.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		var sink export.Sink
		if importS3 {
			sink, err = exportSink(a.cfg.Export, "", args[0])
		} else {
			sink, err = exportSink(a.cfg.Export, args[0], "")
		}
		if err != nil {
			return err
		}

		doc, err := export.Load(cmd.Context(), sink)
		if err != nil {
			return fmt.Errorf("read %s: %w", sink, err)
		}

		stats, err := export.Import(cmd.Context(), a.store, doc, a.logger.Named("import"))
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Fprintf(os.Stderr, "✓ Imported %s\n", sink)
		fmt.Fprintf(os.Stderr, "  Total:     %d\n", stats.Total)
		fmt.Fprintf(os.Stderr, "  New:       %d\n", stats.Created)
		fmt.Fprintf(os.Stderr, "  Existing:  %d\n", stats.Existing)
		fmt.Fprintf(os.Stderr, "  Skipped:   %d\n", stats.Skipped)
		return nil
	},
}

// exportSink picks a file or S3 sink. s3Target wins when both are set.
func exportSink(cfg model.ExportConfig, path, s3Target string) (export.Sink, error) {
	if s3Target != "" {
		bucket, key, err := export.ParseS3Target(s3Target)
		if err != nil {
			return nil, err
		}
		return export.NewS3Sink(cfg, bucket, key)
	}
	if path == "" {
		return nil, fmt.Errorf("no export target")
	}
	expanded, err := store.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	return export.FileSink{Path: expanded}, nil
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default: stdout)")
	exportCmd.Flags().StringVar(&exportS3, "s3", "", "upload to bucket/key on the configured S3 endpoint")
	exportCmd.Flags().StringVar(&exportTag, "tag", "", "only analyses with this tag")
	exportCmd.Flags().StringVar(&exportSince, "since", "", "only analyses newer than a duration (720h) or date (2025-01-31)")
	exportCmd.MarkFlagsMutuallyExclusive("out", "s3")

	importCmd.Flags().BoolVar(&importS3, "s3", false, "treat the argument as bucket/key on the configured S3 endpoint")
}
