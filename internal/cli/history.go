package cli

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/ppiankov/bsmeter/internal/orchestrator"
	"github.com/ppiankov/bsmeter/internal/store"
)

var (
	historyAttitude string
	historyProvider string
	historySource   string
	historyTag      string
	historySince    string
	historyLimit    int
	historyJSON     bool
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and tag stored analyses",
	Long: `History works with analyses stored by earlier runs.

Records are addressed by fingerprint; any unambiguous prefix of at least
6 characters is accepted.

Example:
  bsmeter history search vaccine --since 168h
  bsmeter history show 3fa9c1
  bsmeter history tag 3fa9c1 health follow-up
  bsmeter history stats`,
}

var historySearchCmd = &cobra.Command{
	Use:   "search [text]",
	Short: "List stored analyses, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := historyQuery(args)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		var recs []*model.AnalysisRecord
		for rec, err := range a.orch.Search(cmd.Context(), q) {
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}

		if historyJSON {
			if recs == nil {
				recs = []*model.AnalysisRecord{}
			}
			return writeJSON(os.Stdout, recs)
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No matching analyses")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FINGERPRINT\tCREATED\tVERDICT\tATTITUDE\tPROVIDER\tTEXT")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.Fingerprint.Short(),
				r.Result.CreatedAt.Local().Format(time.DateTime),
				orDash(r.Result.Verdict),
				r.Request.Attitude,
				r.Result.ProviderUsed,
				preview(r.Request.Text, 60))
		}
		return tw.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <fingerprint>",
	Short: "Show one stored analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := resolveRecord(cmd.Context(), a.orch, args[0])
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(os.Stdout, rec)
		}

		fmt.Printf("\n  Text:     %s\n", preview(rec.Request.Text, 200))
		if rec.Request.Context != "" {
			fmt.Printf("  Context:  %s\n", preview(rec.Request.Context, 200))
		}
		fmt.Printf("  Source:   %s\n", rec.Request.SourceType)
		renderOutcome(os.Stdout, &orchestrator.Outcome{Record: rec, Cached: true})
		return nil
	},
}

var historyTagCmd = &cobra.Command{
	Use:   "tag <fingerprint> <tag>...",
	Short: "Attach tags to a stored analysis",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editTags(cmd.Context(), args[0], args[1:], true)
	},
}

var historyUntagCmd = &cobra.Command{
	Use:   "untag <fingerprint> <tag>...",
	Short: "Remove tags from a stored analysis",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editTags(cmd.Context(), args[0], args[1:], false)
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise stored analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.orch.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(os.Stdout, st)
		}

		fmt.Println()
		fmt.Println(rule)
		fmt.Printf("  History: %d analyses\n", st.Total)
		fmt.Println(rule)
		printCounts("By attitude", st.ByAttitude)
		printCounts("By provider", st.ByProvider)
		printCounts("By source", st.BySource)
		if len(st.TopTags) > 0 {
			fmt.Println("\n  Top tags:")
			for _, tc := range st.TopTags {
				fmt.Printf("    %-20s %d\n", tc.Tag, tc.Count)
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historySearchCmd, historyShowCmd, historyTagCmd, historyUntagCmd, historyStatsCmd)

	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "print JSON")

	historySearchCmd.Flags().StringVar(&historyAttitude, "attitude", "", "only this attitude")
	historySearchCmd.Flags().StringVar(&historyProvider, "provider", "", "only analyses answered by this provider")
	historySearchCmd.Flags().StringVar(&historySource, "source", "", "only this source type")
	historySearchCmd.Flags().StringVar(&historyTag, "tag", "", "only analyses with this tag")
	historySearchCmd.Flags().StringVar(&historySince, "since", "", "only analyses newer than a duration (72h) or date (2025-01-31)")
	historySearchCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of results, 0 for all")
}

// historyQuery builds a store query from the search flags
func historyQuery(args []string) (store.Query, error) {
	q := store.Query{
		Provider: historyProvider,
		Tag:      historyTag,
		Limit:    historyLimit,
	}
	if len(args) > 0 {
		q.Text = args[0]
	}
	if historyAttitude != "" {
		att, err := model.ParseAttitude(historyAttitude)
		if err != nil {
			return q, err
		}
		q.Attitude = att
	}
	if historySource != "" {
		src, err := model.ParseSource(historySource)
		if err != nil {
			return q, err
		}
		q.Source = src
	}
	if historySince != "" {
		since, err := parseSince(historySince, time.Now())
		if err != nil {
			return q, err
		}
		q.Since = since
	}
	if q.Tag != "" {
		tag, err := store.NormalizeTag(q.Tag)
		if err != nil {
			return q, err
		}
		q.Tag = tag
	}
	return q, nil
}

// parseSince accepts a Go duration relative to now or a calendar date
func parseSince(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: want a duration like 72h or a date like 2025-01-31", s)
}

// recordFinder is what resolveRecord needs from the orchestrator
type recordFinder interface {
	Lookup(ctx context.Context, fp model.Fingerprint) (*model.AnalysisRecord, error)
	Search(ctx context.Context, q store.Query) iter.Seq2[*model.AnalysisRecord, error]
}

const minPrefix = 6

// resolveRecord finds a record by full fingerprint or unambiguous prefix
func resolveRecord(ctx context.Context, o recordFinder, ref string) (*model.AnalysisRecord, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if fp, err := model.ParseFingerprint(ref); err == nil {
		rec, err := o.Lookup(ctx, fp)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("no analysis with fingerprint %s", fp.Short())
		}
		return rec, err
	}
	if len(ref) < minPrefix {
		return nil, fmt.Errorf("fingerprint prefix %q too short: need at least %d characters", ref, minPrefix)
	}

	var matches []*model.AnalysisRecord
	for rec, err := range o.Search(ctx, store.Query{}) {
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(string(rec.Fingerprint), ref) {
			matches = append(matches, rec)
			if len(matches) > 1 {
				break
			}
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no analysis matches %q", ref)
	case 1:
		return matches[0], nil
	}
	return nil, fmt.Errorf("fingerprint prefix %q is ambiguous; use more characters", ref)
}

func editTags(ctx context.Context, ref string, tags []string, add bool) error {
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := resolveRecord(ctx, a.orch, ref)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if add {
			err = a.orch.AddTag(ctx, rec.Fingerprint, tag)
		} else {
			err = a.orch.RemoveTag(ctx, rec.Fingerprint, tag)
		}
		if err != nil {
			return fmt.Errorf("tag %q: %w", tag, err)
		}
	}

	verb := "Tagged"
	if !add {
		verb = "Untagged"
	}
	fmt.Fprintf(os.Stderr, "✓ %s %s: %s\n", verb, rec.Fingerprint.Short(), strings.Join(tags, ", "))
	return nil
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	fmt.Printf("\n  %s:\n", title)
	for _, k := range keys {
		fmt.Printf("    %-20s %d\n", k, counts[k])
	}
}
