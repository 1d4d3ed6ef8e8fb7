package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cwbudde/pixelmatch/internal/config"
	"github.com/cwbudde/pixelmatch/internal/imgutil"
	"github.com/cwbudde/pixelmatch/internal/match"
	"github.com/cwbudde/pixelmatch/internal/store"
)

// errTooManyMismatches makes the process exit with status 1 without an
// error message.
var errTooManyMismatches = errors.New("mismatched pixels exceed --fail-over")

var (
	outPath    string
	configPath string
	workers    int
	saveReport bool
	dataDir    string
	failOver   int
)

var compareCmd = &cobra.Command{
	Use:   "compare <baseline> <candidate>",
	Short: "Compare two images",
	Long: `Compares two images of equal size and prints the number of mismatched pixels.
The process exits with status 1 when that number exceeds --fail-over.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the diff image to this path (.png, .jpg, .gif, .bmp, .tiff)")
	compareCmd.Flags().StringVarP(&configPath, "config", "c", "", "Options file (YAML or JSON)")
	compareCmd.Flags().IntVar(&workers, "workers", 1, "Goroutines per comparison (0 = all CPUs)")
	compareCmd.Flags().BoolVar(&saveReport, "save", false, "Persist a report in --data-dir")
	compareCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Base directory for reports")
	compareCmd.Flags().IntVar(&failOver, "fail-over", 0, "Exit with status 1 when more pixels than this mismatch")
	addOptionFlags(compareCmd.Flags())

	rootCmd.AddCommand(compareCmd)
}

// addOptionFlags registers the comparison option flags on fs. Their
// defaults mirror match.DefaultOptions.
func addOptionFlags(fs *pflag.FlagSet) {
	def := match.DefaultOptions()
	fs.Float64P("threshold", "t", def.Threshold, "Matching threshold in [0, 1]; smaller is more sensitive")
	fs.Bool("include-aa", def.IncludeAA, "Count anti-aliased pixels as different")
	fs.Float64("alpha", def.Alpha, "Opacity of unchanged pixels in the diff image")
	fs.String("aa-color", def.AAColor.String(), "Color of anti-aliased pixels")
	fs.String("diff-color", def.DiffColor.String(), "Color of different pixels")
	fs.Bool("diff-mask", def.DiffMask, "Draw only the differences on a transparent background")
}

// resolveOptions builds the effective options: the --config file (or the
// defaults) overridden by every option flag set explicitly.
func resolveOptions(fs *pflag.FlagSet, path string) (match.Options, error) {
	opts := match.DefaultOptions()
	if path != "" {
		var err error
		if opts, err = config.Load(path); err != nil {
			return match.Options{}, err
		}
	}

	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "threshold":
			opts.Threshold, err = fs.GetFloat64(f.Name)
		case "include-aa":
			opts.IncludeAA, err = fs.GetBool(f.Name)
		case "alpha":
			opts.Alpha, err = fs.GetFloat64(f.Name)
		case "diff-mask":
			opts.DiffMask, err = fs.GetBool(f.Name)
		case "aa-color":
			opts.AAColor, err = parseColorFlag(f.Value.String())
		case "diff-color":
			opts.DiffColor, err = parseColorFlag(f.Value.String())
		}
	})
	if err != nil {
		return match.Options{}, err
	}
	if err := opts.Validate(); err != nil {
		return match.Options{}, err
	}
	return opts, nil
}

func parseColorFlag(s string) (match.RGB, error) {
	c, err := config.ParseColor(s)
	if err != nil {
		return match.RGB{}, err
	}
	return match.RGB(c), nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	opts, err := resolveOptions(cmd.Flags(), configPath)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := compareFiles(args[0], args[1], opts, workers)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	slog.Info("Comparison complete",
		"baseline", args[0],
		"candidate", args[1],
		"mismatched", res.Mismatched,
		"anti_aliased", res.AntiAliased,
		"elapsed", elapsed,
	)

	if outPath != "" {
		if err := imgutil.Save(outPath, res.Diff); err != nil {
			return err
		}
	}

	if saveReport {
		id, err := persistReport(dataDir, args[0], args[1], opts, res)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved report %s\n", id)
	}

	printResult(cmd.OutOrStdout(), res, elapsed)

	if res.Mismatched > failOver {
		return errTooManyMismatches
	}
	return nil
}

func compareFiles(baselinePath, candidatePath string, opts match.Options, workers int) (*imgutil.Result, error) {
	baseline, err := imgutil.LoadNRGBA(baselinePath)
	if err != nil {
		return nil, err
	}
	candidate, err := imgutil.LoadNRGBA(candidatePath)
	if err != nil {
		return nil, err
	}

	res, err := imgutil.CompareWorkers(baseline, candidate, opts, workers)
	if errors.Is(err, match.ErrDimensionMismatch) {
		b, c := baseline.Bounds(), candidate.Bounds()
		return nil, fmt.Errorf("image sizes differ: %dx%d vs %dx%d: %w", b.Dx(), b.Dy(), c.Dx(), c.Dy(), err)
	}
	return res, err
}

// persistReport stores res under a new report ID, together with its diff image.
func persistReport(baseDir, baselinePath, candidatePath string, opts match.Options, res *imgutil.Result) (string, error) {
	st, err := store.NewFSStore(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to create report store: %w", err)
	}

	id := uuid.New().String()
	b := res.Diff.Bounds()
	report := store.NewReport(id, baselinePath, candidatePath, b.Dx(), b.Dy(), opts, res.Stats)
	report.DiffPath = st.DiffPath(id)

	if err := imgutil.Save(report.DiffPath, res.Diff); err != nil {
		return "", err
	}
	if err := st.SaveReport(report); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	return id, nil
}

func printResult(w io.Writer, res *imgutil.Result, elapsed time.Duration) {
	fmt.Fprintf(w, "%s of %s pixels differ (%.2f%%), %s anti-aliased, in %s\n",
		humanize.Comma(int64(res.Mismatched)),
		humanize.Comma(int64(res.Total)),
		res.Percent(),
		humanize.Comma(int64(res.AntiAliased)),
		elapsed.Round(time.Millisecond),
	)
}
