package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/pixelmatch/internal/store"
)

var recheckDataDir string

var recheckCmd = &cobra.Command{
	Use:   "recheck <report-id>",
	Short: "Re-run a saved comparison",
	Long: `Compares the baseline and candidate of a saved report again with the
report's options and prints how the mismatch count changed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecheck,
}

func init() {
	recheckCmd.Flags().StringVar(&recheckDataDir, "data-dir", "./data", "Base directory for reports")
	rootCmd.AddCommand(recheckCmd)
}

func runRecheck(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(recheckDataDir)
	if err != nil {
		return fmt.Errorf("failed to create report store: %w", err)
	}

	report, err := st.LoadReport(args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("report not found: %s", args[0])
	}
	if err != nil {
		return err
	}

	res, err := compareFiles(report.Baseline, report.Candidate, report.Options, 0)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.Mismatched == report.Mismatched {
		fmt.Fprintf(out, "Unchanged: %d mismatched pixel(s)\n", res.Mismatched)
		return nil
	}
	fmt.Fprintf(out, "Changed: %d -> %d mismatched pixel(s) (%+d)\n",
		report.Mismatched, res.Mismatched, res.Mismatched-report.Mismatched)
	return nil
}
