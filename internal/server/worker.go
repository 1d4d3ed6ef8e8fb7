package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/pixelmatch/internal/imgutil"
	"github.com/cwbudde/pixelmatch/internal/match"
	"github.com/cwbudde/pixelmatch/internal/store"
)

// runJob executes a comparison job in the background. It waits for a free
// comparison slot, compares the two files and, if a store is configured,
// persists the outcome as a report.
func (s *Server) runJob(ctx context.Context, jobID string) error {
	job, exists := s.jobs.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if err := s.acquire(ctx); err != nil {
		markJobCancelled(s.jobs, jobID)
		return err
	}
	defer s.release()

	if err := s.jobs.UpdateJob(jobID, func(j *Job) { j.State = StateRunning }); err != nil {
		return err
	}
	slog.Info("Starting job", "job_id", jobID, "baseline", job.Config.Baseline, "candidate", job.Config.Candidate)

	start := time.Now()
	res, err := compareFiles(job.Config, s.workers)
	s.metrics.observe(statsOf(res), time.Since(start), err)
	if err != nil {
		markJobFailed(s.jobs, jobID, err)
		return err
	}

	if ctx.Err() != nil {
		markJobCancelled(s.jobs, jobID)
		return ctx.Err()
	}

	if s.store != nil {
		if err := s.persist(jobID, job.Config, res); err != nil {
			slog.Warn("Failed to persist report", "job_id", jobID, "error", err)
		}
	}

	endTime := time.Now()
	err = s.jobs.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Width, j.Height = res.Diff.Rect.Dx(), res.Diff.Rect.Dy()
		j.Mismatched = res.Mismatched
		j.AntiAliased = res.AntiAliased
		j.Total = res.Total
		j.Percent = res.Percent()
		j.EndTime = &endTime
		j.diff = res.Diff
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", time.Since(start),
		"mismatched", res.Mismatched,
		"anti_aliased", res.AntiAliased,
	)
	return nil
}

func compareFiles(cfg JobConfig, workers int) (*imgutil.Result, error) {
	baseline, err := imgutil.LoadNRGBA(cfg.Baseline)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	candidate, err := imgutil.LoadNRGBA(cfg.Candidate)
	if err != nil {
		return nil, fmt.Errorf("candidate: %w", err)
	}
	return imgutil.CompareWorkers(baseline, candidate, cfg.Options, workers)
}

func statsOf(res *imgutil.Result) match.Stats {
	if res == nil {
		return match.Stats{}
	}
	return res.Stats
}

// persist saves the job outcome and its diff image to the store.
func (s *Server) persist(jobID string, cfg JobConfig, res *imgutil.Result) error {
	b := res.Diff.Bounds()
	report := store.NewReport(jobID, cfg.Baseline, cfg.Candidate, b.Dx(), b.Dy(), cfg.Options, res.Stats)

	diffPath := s.store.DiffPath(jobID)
	if err := imgutil.Save(diffPath, res.Diff); err != nil {
		return fmt.Errorf("failed to save diff image: %w", err)
	}
	report.DiffPath = diffPath

	return s.store.SaveReport(report)
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}
