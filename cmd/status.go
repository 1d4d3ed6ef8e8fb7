package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/pixelmatch/internal/server"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server jobs",
	Long: `Queries a running server for job information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		var jobs []server.Job
		if err := getJSON(serverURL+"/api/v1/jobs", &jobs); err != nil {
			return err
		}
		printJobs(cmd.OutOrStdout(), jobs)
		return nil
	}

	var job server.Job
	if err := getJSON(serverURL+"/api/v1/jobs/"+url.PathEscape(args[0]), &job); err != nil {
		return err
	}
	printJob(cmd.OutOrStdout(), job)
	return nil
}

func getJSON(endpoint string, v any) error {
	resp, err := httpClient.Get(endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("not found: %s", endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJobs(out io.Writer, jobs []server.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tSTATE\tSTARTED\tMISMATCHED\tCANDIDATE")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID(job.ID),
			job.State,
			humanize.Time(job.StartTime),
			humanize.Comma(int64(job.Mismatched)),
			job.Config.Candidate,
		)
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal jobs: %d\n", len(jobs))
}

func printJob(out io.Writer, job server.Job) {
	fmt.Fprintf(out, "Job: %s\n", job.ID)
	fmt.Fprintf(out, "State: %s\n", job.State)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Baseline:  %s\n", job.Config.Baseline)
	fmt.Fprintf(out, "  Candidate: %s\n", job.Config.Candidate)
	fmt.Fprintf(out, "  Threshold: %g\n", job.Config.Options.Threshold)
	fmt.Fprintf(out, "  Include AA: %t\n", job.Config.Options.IncludeAA)
	fmt.Fprintln(out)

	if job.State == server.StateCompleted {
		fmt.Fprintln(out, "Result:")
		fmt.Fprintf(out, "  Size: %dx%d\n", job.Width, job.Height)
		fmt.Fprintf(out, "  Mismatched: %s (%.2f%%)\n", humanize.Comma(int64(job.Mismatched)), job.Percent)
		fmt.Fprintf(out, "  Anti-aliased: %s\n", humanize.Comma(int64(job.AntiAliased)))
	}

	end := time.Now()
	if job.EndTime != nil {
		end = *job.EndTime
	}
	fmt.Fprintf(out, "  Elapsed: %s\n", end.Sub(job.StartTime).Round(time.Millisecond))

	if job.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", job.Error)
	}
}
