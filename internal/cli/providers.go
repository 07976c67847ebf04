package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/bsmeter/internal/registry"
)

var (
	probeProviders bool
	providersJSON  bool
)

// providersCmd represents the providers command
var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect configured analysis providers",
}

var providersStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which providers are enabled and reachable",
	Long: `Status lists every configured provider in configuration order with its
priority and whether analyze would currently try it.

With --probe, each enabled provider that supports it is contacted to check
credentials and reachability.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		statuses := a.orch.ProviderStatus()

		var probes map[string]registry.ProbeResult
		if probeProviders {
			fmt.Fprintf(os.Stderr, "⚙️  Probing providers...\n")
			probes = make(map[string]registry.ProbeResult)
			for _, p := range a.registry.Probe(cmd.Context()) {
				probes[p.Name] = p
			}
		}

		if providersJSON {
			return writeJSON(os.Stdout, statuses)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		header := "NAME\tTYPE\tPRIORITY\tSTATE\tNOTE"
		if probeProviders {
			header += "\tPROBE"
		}
		fmt.Fprintln(tw, header)
		for _, s := range statuses {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s", s.Name, s.Type, s.Priority, stateOf(s), orDash(s.Reason))
			if probeProviders {
				fmt.Fprintf(tw, "\t%s", probeText(probes[s.Name]))
			}
			fmt.Fprintln(tw)
		}
		return tw.Flush()
	},
}

func stateOf(s registry.Status) string {
	switch {
	case !s.Enabled:
		return "✗ disabled"
	case !s.Available:
		return "✗ unavailable"
	}
	return "✓ ready"
}

func probeText(p registry.ProbeResult) string {
	switch {
	case p.Name == "":
		return "-"
	case p.Skipped:
		return "skipped"
	case p.Err != nil:
		return "✗ " + p.Err.Error()
	}
	return "✓ ok"
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersStatusCmd)

	providersStatusCmd.Flags().BoolVar(&probeProviders, "probe", false, "contact each provider to verify it responds")
	providersStatusCmd.Flags().BoolVar(&providersJSON, "json", false, "print JSON")
}
