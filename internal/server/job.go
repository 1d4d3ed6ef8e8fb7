package server

import (
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/pixelmatch/internal/match"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether a job in this state will not change again.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// JobConfig describes one comparison of two server-local image files.
type JobConfig struct {
	Baseline  string        `json:"baseline"`
	Candidate string        `json:"candidate"`
	Options   match.Options `json:"options"`
}

// Job represents a comparison job
type Job struct {
	ID          string     `json:"id"`
	State       JobState   `json:"state"`
	Config      JobConfig  `json:"config"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	Mismatched  int        `json:"mismatched"`
	AntiAliased int        `json:"antiAliased"`
	Total       int        `json:"total"`
	Percent     float64    `json:"percent"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Error       string     `json:"error,omitempty"`

	diff *image.NRGBA
}

// Stats returns the comparison counters of the job.
func (j *Job) Stats() match.Stats {
	return match.Stats{Mismatched: j.Mismatched, AntiAliased: j.AntiAliased, Total: j.Total}
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a pending job with the given configuration
func (jm *JobManager) CreateJob(config JobConfig) Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return *job
}

// GetJob returns a snapshot of the job with the given ID
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns snapshots of all jobs, oldest first
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].StartTime.Before(jobs[k].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job and broadcasts its new state
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	job, exists := jm.jobs[id]
	if !exists {
		jm.mu.Unlock()
		return fmt.Errorf("job not found: %s", id)
	}
	updateFn(job)
	event := newJobEvent(job)
	jm.mu.Unlock()

	jm.broadcaster.Broadcast(event)
	return nil
}

// CountByState returns the number of jobs in each state
func (jm *JobManager) CountByState() map[JobState]int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	counts := make(map[JobState]int)
	for _, job := range jm.jobs {
		counts[job.State]++
	}
	return counts
}
