package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/pixelmatch/internal/store"
)

var (
	reportsDataDir string
	keepLast       int
	olderThanDays  int
	forceClean     bool
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Manage saved comparison reports",
	Long: `Manage comparison reports saved by "compare --save" and the server,
including listing, inspecting and cleaning old reports.`,
}

var listReportsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved reports",
	RunE:  runListReports,
}

var showReportCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Show one report in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowReport,
}

var cleanReportsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old reports",
	Long: `Delete reports based on a retention policy: keep only the newest N reports,
delete reports older than N days, or both.`,
	RunE: runCleanReports,
}

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsCmd.AddCommand(listReportsCmd, showReportCmd, cleanReportsCmd)

	reportsCmd.PersistentFlags().StringVar(&reportsDataDir, "data-dir", "./data", "Base directory for report storage")

	cleanReportsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N reports (0 = keep all)")
	cleanReportsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete reports older than N days (0 = no age limit)")
	cleanReportsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func runListReports(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(reportsDataDir)
	if err != nil {
		return fmt.Errorf("failed to create report store: %w", err)
	}

	infos, err := st.ListReports()
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No reports found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REPORT ID\tSAVED\tMISMATCHED\tPERCENT\tCANDIDATE\tSIZE")
	for _, info := range infos {
		sizeStr := "unknown"
		if size, err := dirSize(filepath.Join(st.BaseDir(), "reports", info.ID)); err == nil {
			sizeStr = humanize.Bytes(uint64(size))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f%%\t%s\t%s\n",
			shortID(info.ID),
			humanize.Time(info.Timestamp),
			humanize.Comma(int64(info.Mismatched)),
			info.Percent,
			info.Candidate,
			sizeStr,
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal reports: %d\n", len(infos))
	return nil
}

func runShowReport(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(reportsDataDir)
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

	printReport(cmd.OutOrStdout(), report)
	return nil
}

func printReport(w io.Writer, r *store.Report) {
	fmt.Fprintf(w, "Report: %s\n", r.ID)
	fmt.Fprintf(w, "Saved: %s (%s)\n", r.Timestamp.Format("2006-01-02 15:04:05"), humanize.Time(r.Timestamp))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Baseline:  %s\n", r.Baseline)
	fmt.Fprintf(w, "Candidate: %s\n", r.Candidate)
	fmt.Fprintf(w, "Size:      %dx%d\n", r.Width, r.Height)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintf(w, "  Threshold:  %g\n", r.Options.Threshold)
	fmt.Fprintf(w, "  Include AA: %t\n", r.Options.IncludeAA)
	fmt.Fprintf(w, "  Alpha:      %g\n", r.Options.Alpha)
	fmt.Fprintf(w, "  AA color:   %s\n", r.Options.AAColor)
	fmt.Fprintf(w, "  Diff color: %s\n", r.Options.DiffColor)
	fmt.Fprintf(w, "  Diff mask:  %t\n", r.Options.DiffMask)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Result:")
	fmt.Fprintf(w, "  Mismatched:   %s (%.2f%%)\n", humanize.Comma(int64(r.Mismatched)), r.Percent())
	fmt.Fprintf(w, "  Anti-aliased: %s\n", humanize.Comma(int64(r.AntiAliased)))
	fmt.Fprintf(w, "  Total:        %s\n", humanize.Comma(int64(r.Total)))
	if r.DiffPath != "" {
		fmt.Fprintf(w, "  Diff image:   %s\n", r.DiffPath)
	}
}

func runCleanReports(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	st, err := store.NewFSStore(reportsDataDir)
	if err != nil {
		return fmt.Errorf("failed to create report store: %w", err)
	}

	infos, err := st.ListReports()
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	out := cmd.OutOrStdout()
	toDelete := selectReportsForDeletion(infos, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No reports match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d report(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %s)\n", shortID(info.ID), info.Candidate, humanize.Time(info.Timestamp))
	}

	if !forceClean && !confirm(cmd, "Proceed with deletion?") {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := st.DeleteReport(info.ID); err != nil {
			slog.Error("Failed to delete report", "report_id", info.ID, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted report", "report_id", info.ID)
		deleted++
	}

	fmt.Fprintf(out, "\nDeleted %d report(s), %d failed.\n", deleted, failed)
	return nil
}

// selectReportsForDeletion applies the retention policy: reports older than
// olderThanDays and every report beyond the keepLast newest are selected.
// Each report appears at most once, oldest first.
func selectReportsForDeletion(infos []store.ReportInfo, keepLast, olderThanDays int, now time.Time) []store.ReportInfo {
	return selectForDeletion(infos, func(info store.ReportInfo) time.Time { return info.Timestamp },
		keepLast, olderThanDays, now)
}

// selectForDeletion is the retention policy shared by reports and batch
// journals. A zero keepLast or olderThanDays disables that criterion.
func selectForDeletion[T any](items []T, timestamp func(T) time.Time, keepLast, olderThanDays int, now time.Time) []T {
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return timestamp(sorted[i]).Before(timestamp(sorted[j]))
	})

	var cutoff time.Time
	if olderThanDays > 0 {
		cutoff = now.AddDate(0, 0, -olderThanDays)
	}
	excess := 0
	if keepLast > 0 && len(sorted) > keepLast {
		excess = len(sorted) - keepLast
	}

	var toDelete []T
	for i, item := range sorted {
		if i < excess || timestamp(item).Before(cutoff) {
			toDelete = append(toDelete, item)
		}
	}
	return toDelete
}

// confirm asks a yes/no question on the command's streams.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s [y/N]: ", question)
	var response string
	fmt.Fscanln(cmd.InOrStdin(), &response)
	return response == "y" || response == "Y"
}

// dirSize calculates the total size of a directory
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
