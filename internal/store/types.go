package store

import (
	"time"

	"github.com/cwbudde/pixelmatch/internal/match"
)

// Report is the persisted outcome of one comparison.
type Report struct {
	ID        string `json:"id"`
	Baseline  string `json:"baseline"`
	Candidate string `json:"candidate"`

	Width  int `json:"width"`
	Height int `json:"height"`

	Options match.Options `json:"options"`

	Mismatched  int `json:"mismatched"`
	AntiAliased int `json:"antiAliased"`
	Total       int `json:"total"`

	Timestamp time.Time `json:"timestamp"`

	// DiffPath is set when a diff image was written next to the report.
	DiffPath string `json:"diffPath,omitempty"`
}

// ReportInfo is the listing view of a Report.
type ReportInfo struct {
	ID         string    `json:"id"`
	Baseline   string    `json:"baseline"`
	Candidate  string    `json:"candidate"`
	Mismatched int       `json:"mismatched"`
	Percent    float64   `json:"percent"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewReport builds a report from comparison statistics.
func NewReport(id, baseline, candidate string, width, height int, opts match.Options, stats match.Stats) *Report {
	return &Report{
		ID:          id,
		Baseline:    baseline,
		Candidate:   candidate,
		Width:       width,
		Height:      height,
		Options:     opts,
		Mismatched:  stats.Mismatched,
		AntiAliased: stats.AntiAliased,
		Total:       stats.Total,
		Timestamp:   time.Now(),
	}
}

// Stats returns the comparison counters of the report.
func (r *Report) Stats() match.Stats {
	return match.Stats{Mismatched: r.Mismatched, AntiAliased: r.AntiAliased, Total: r.Total}
}

// Percent returns the share of mismatched pixels in percent.
func (r *Report) Percent() float64 {
	return r.Stats().Percent()
}

// ToInfo converts a full Report to ReportInfo.
func (r *Report) ToInfo() ReportInfo {
	return ReportInfo{
		ID:         r.ID,
		Baseline:   r.Baseline,
		Candidate:  r.Candidate,
		Mismatched: r.Mismatched,
		Percent:    r.Percent(),
		Timestamp:  r.Timestamp,
	}
}

// Validate checks that the report is complete and self-consistent.
func (r *Report) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if r.Width < 0 || r.Height < 0 {
		return &ValidationError{Field: "Width/Height", Reason: "cannot be negative"}
	}
	if r.Total != r.Width*r.Height {
		return &ValidationError{Field: "Total", Reason: "must equal width*height"}
	}
	if r.Mismatched < 0 || r.AntiAliased < 0 {
		return &ValidationError{Field: "Mismatched/AntiAliased", Reason: "cannot be negative"}
	}
	if r.Mismatched+r.AntiAliased > r.Total {
		return &ValidationError{Field: "Mismatched", Reason: "exceeds total pixel count"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := r.Options.Validate(); err != nil {
		return &ValidationError{Field: "Options", Reason: err.Error()}
	}
	return nil
}

// ValidationError represents a report validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
