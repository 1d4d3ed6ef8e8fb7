package store

// Store defines the interface for comparison report persistence.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound if a report doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveReport atomically saves a report, overwriting any report with the
	// same ID. The diff image, if any, is written separately to DiffPath.
	SaveReport(report *Report) error

	// LoadReport retrieves the report with the given ID.
	LoadReport(id string) (*Report, error)

	// ListReports returns metadata for all stored reports, newest first.
	ListReports() ([]ReportInfo, error)

	// DeleteReport removes the report and its diff image.
	DeleteReport(id string) error

	// DiffPath returns where the diff image of report id is kept.
	DiffPath(id string) string
}

// ErrNotFound is returned when a requested report does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing report or journal.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return "report not found: " + e.ID
	}
	return "report not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
