package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/pixelmatch/internal/imgutil"
	"github.com/cwbudde/pixelmatch/internal/match"
	"github.com/cwbudde/pixelmatch/internal/store"
)

var (
	batchConfigPath string
	batchDataDir    string
	batchDiffDir    string
	batchJobs       int
	batchFailOver   int

	batchShowFailOver int
	batchKeepLast     int
	batchOlderThan    int
	batchForceClean   bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <baseline-dir> <candidate-dir>",
	Short: "Compare every image in two directories",
	Long: `Compares each image in the baseline directory with the file of the same
name in the candidate directory. Results are journaled under --data-dir/batches
and can be inspected later with "batch list" and "batch show".
The process exits with status 1 when any pair fails or exceeds --fail-over.`,
	Args: cobra.ExactArgs(2),
	RunE: runBatch,
}

var listBatchesCmd = &cobra.Command{
	Use:   "list",
	Short: "List batch journals",
	Args:  cobra.NoArgs,
	RunE:  runListBatches,
}

var showBatchCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Show the results of one batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowBatch,
}

var cleanBatchesCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old batch journals",
	Long: `Delete batch journals based on a retention policy: keep only the newest N
journals, delete journals older than N days, or both.`,
	Args: cobra.NoArgs,
	RunE: runCleanBatches,
}

func init() {
	batchCmd.PersistentFlags().StringVar(&batchDataDir, "data-dir", "./data", "Base directory for batch journals")
	batchCmd.Flags().StringVarP(&batchConfigPath, "config", "c", "", "Options file (YAML or JSON)")
	batchCmd.Flags().StringVar(&batchDiffDir, "diff-dir", "", "Write a diff PNG per pair into this directory")
	batchCmd.Flags().IntVarP(&batchJobs, "jobs", "j", 0, "Pairs compared in parallel (0 = all CPUs)")
	batchCmd.Flags().IntVar(&batchFailOver, "fail-over", 0, "Per-pair mismatched pixel limit")
	addOptionFlags(batchCmd.Flags())

	showBatchCmd.Flags().IntVar(&batchShowFailOver, "fail-over", 0, "Per-pair mismatched pixel limit")

	cleanBatchesCmd.Flags().IntVar(&batchKeepLast, "keep-last", 0, "Keep only the newest N journals (0 = keep all)")
	cleanBatchesCmd.Flags().IntVar(&batchOlderThan, "older-than", 0, "Delete journals older than N days (0 = no age limit)")
	cleanBatchesCmd.Flags().BoolVarP(&batchForceClean, "force", "f", false, "Skip confirmation prompt")

	batchCmd.AddCommand(listBatchesCmd, showBatchCmd, cleanBatchesCmd)
	rootCmd.AddCommand(batchCmd)
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// imageNames lists the image files directly inside dir, sorted.
func imageNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// comparePair compares one baseline/candidate pair and optionally writes
// its diff image. Failures are recorded in the entry, not returned.
func comparePair(name, baselineDir, candidateDir, diffDir string, opts match.Options) store.JournalEntry {
	entry := store.JournalEntry{
		Name:      name,
		Baseline:  filepath.Join(baselineDir, name),
		Candidate: filepath.Join(candidateDir, name),
	}

	res, err := compareFiles(entry.Baseline, entry.Candidate, opts, 1)
	if err == nil && diffDir != "" {
		diffName := strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
		err = imgutil.Save(filepath.Join(diffDir, diffName), res.Diff)
	}
	entry.Timestamp = time.Now()
	if err != nil {
		entry.Error = err.Error()
		return entry
	}

	entry.Mismatched = res.Mismatched
	entry.AntiAliased = res.AntiAliased
	entry.Total = res.Total
	return entry
}

// runPairs compares all names with at most jobs pairs in flight and writes
// every entry to the journal. Entries are returned in the order of names.
func runPairs(names []string, baselineDir, candidateDir, diffDir string, opts match.Options, jobs int, journal *store.JournalWriter) ([]store.JournalEntry, error) {
	entries := make([]store.JournalEntry, len(names))

	var g errgroup.Group
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			entries[i] = comparePair(name, baselineDir, candidateDir, diffDir, opts)
			slog.Debug("Compared pair", "name", name, "mismatched", entries[i].Mismatched, "error", entries[i].Error)
			return journal.Write(entries[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	baselineDir, candidateDir := args[0], args[1]

	opts, err := resolveOptions(cmd.Flags(), batchConfigPath)
	if err != nil {
		return err
	}

	names, err := imageNames(baselineDir)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no images found in %s", baselineDir)
	}

	jobs := batchJobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	batchID := uuid.New().String()
	journal, err := store.NewJournalWriter(batchDataDir, batchID)
	if err != nil {
		return err
	}

	start := time.Now()
	entries, err := runPairs(names, baselineDir, candidateDir, batchDiffDir, opts, jobs, journal)
	if closeErr := journal.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	failed := printBatch(cmd.OutOrStdout(), entries, batchFailOver)
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d pair(s) in %s, %d failed. Journal: %s\n",
		len(entries), time.Since(start).Round(time.Millisecond), failed, journal.Path())

	if failed > 0 {
		return errTooManyMismatches
	}
	return nil
}

// printBatch writes the result table and returns how many pairs failed.
func printBatch(out io.Writer, entries []store.JournalEntry, limit int) int {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMISMATCHED\tPERCENT\tANTI-ALIASED\tRESULT")

	failed := 0
	for _, e := range entries {
		result := "ok"
		switch {
		case e.Failed():
			result = "error: " + e.Error
			failed++
		case e.Mismatched > limit:
			result = "FAIL"
			failed++
		}

		stats := match.Stats{Mismatched: e.Mismatched, AntiAliased: e.AntiAliased, Total: e.Total}
		fmt.Fprintf(w, "%s\t%s\t%.2f%%\t%s\t%s\n",
			e.Name,
			humanize.Comma(int64(e.Mismatched)),
			stats.Percent(),
			humanize.Comma(int64(e.AntiAliased)),
			result,
		)
	}
	w.Flush()
	return failed
}

// readJournal loads every entry of the journal batchID.
func readJournal(baseDir, batchID string) ([]store.JournalEntry, error) {
	r, err := store.NewJournalReader(baseDir, batchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("batch not found: %s", batchID)
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}

func runListBatches(cmd *cobra.Command, args []string) error {
	infos, err := store.ListJournals(batchDataDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No batches found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BATCH ID\tSAVED\tPAIRS\tDIFFERENT\tERRORS\tSIZE")
	for _, info := range infos {
		pairs, different, errored := "?", "?", "?"
		if entries, err := readJournal(batchDataDir, info.ID); err != nil {
			slog.Warn("Failed to read journal", "batch_id", info.ID, "error", err)
		} else {
			d, e := 0, 0
			for _, entry := range entries {
				switch {
				case entry.Failed():
					e++
				case entry.Mismatched > 0:
					d++
				}
			}
			pairs, different, errored = strconv.Itoa(len(entries)), strconv.Itoa(d), strconv.Itoa(e)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			info.ID,
			humanize.Time(info.Timestamp),
			pairs,
			different,
			errored,
			humanize.Bytes(uint64(info.Size)),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal batches: %d\n", len(infos))
	return nil
}

func runShowBatch(cmd *cobra.Command, args []string) error {
	entries, err := readJournal(batchDataDir, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Batch: %s\n\n", args[0])
	failed := printBatch(out, entries, batchShowFailOver)
	fmt.Fprintf(out, "\n%d pair(s), %d failed.\n", len(entries), failed)
	return nil
}

func runCleanBatches(cmd *cobra.Command, args []string) error {
	if batchKeepLast == 0 && batchOlderThan == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	infos, err := store.ListJournals(batchDataDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	toDelete := selectForDeletion(infos, func(info store.JournalInfo) time.Time { return info.Timestamp },
		batchKeepLast, batchOlderThan, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No batches match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d batch(es) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s)\n", info.ID, humanize.Time(info.Timestamp))
	}

	if !batchForceClean && !confirm(cmd, "Proceed with deletion?") {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := store.DeleteJournal(batchDataDir, info.ID); err != nil {
			slog.Error("Failed to delete journal", "batch_id", info.ID, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted journal", "batch_id", info.ID)
		deleted++
	}

	fmt.Fprintf(out, "\nDeleted %d batch(es), %d failed.\n", deleted, failed)
	return nil
}
