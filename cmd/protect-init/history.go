package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/protect-init/pkg/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent container starts from the boot journal",
	Example: `  # Table of recent starts
  protect-init history

  # Full step detail
  protect-init history -o yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd)
		if err != nil {
			return err
		}

		output, _ := cmd.Flags().GetString("output")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := readRuns(cfg.Journal.Path, limit)
		if err != nil {
			return err
		}
		return printRuns(cmd.OutOrStdout(), runs, output)
	},
}

// readRuns returns the newest limit runs. The journal is opened read-only so
// it can be read while a running entrypoint records into it. A journal that
// was never written holds no runs.
func readRuns(path string, limit int) ([]*storage.Run, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	store, err := storage.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	runs, err := store.ListRuns()
	if err != nil {
		return nil, fmt.Errorf("failed to read boot journal: %w", err)
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}
	return runs, nil
}

func init() {
	historyCmd.Flags().StringP("output", "o", "table", "Output format (table, yaml)")
	historyCmd.Flags().Int("limit", 10, "Show at most this many runs (0 for all)")
}

func printRuns(w io.Writer, runs []*storage.Run, output string) error {
	switch output {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(runs); err != nil {
			return fmt.Errorf("failed to encode runs: %w", err)
		}
		return enc.Close()

	case "table":
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs recorded")
			return nil
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "STARTED\tVERDICT\tVERSION\tSTEPS\tOUTCOME\tEXIT")
		for _, run := range runs {
			version := run.InstalledVersion
			if run.CurrentVersion != "" && run.CurrentVersion != run.InstalledVersion {
				version = run.InstalledVersion + " -> " + run.CurrentVersion
			}
			if version == "" {
				version = "-"
			}
			verdict := run.Verdict
			if verdict == "" {
				verdict = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\n",
				run.StartedAt.Format(time.RFC3339), verdict, version, len(run.Steps), run.Outcome, run.ExitCode)
		}
		return tw.Flush()

	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}
