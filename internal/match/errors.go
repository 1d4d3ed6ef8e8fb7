package match

import "fmt"

// ErrDimensionMismatch matches any *DimensionError.
// Use errors.Is(err, ErrDimensionMismatch) to check for it.
var ErrDimensionMismatch = &DimensionError{}

// DimensionError is returned when a buffer length disagrees with the declared
// width and height or with the other buffers. It is raised before any pixel
// is processed.
type DimensionError struct {
	Buffer string // img1, img2, output or size
	Got    int
	Want   int
}

func (e *DimensionError) Error() string {
	if e.Buffer == "" {
		return "dimension mismatch"
	}
	return fmt.Sprintf("dimension mismatch: %s has %d bytes, expected %d", e.Buffer, e.Got, e.Want)
}

func (e *DimensionError) Is(target error) bool {
	_, ok := target.(*DimensionError)
	return ok
}

// ErrInvalidOption matches any *OptionError.
var ErrInvalidOption = &OptionError{}

// OptionError is returned when an option value is outside its domain.
type OptionError struct {
	Option string
	Value  float64
	Reason string
}

func (e *OptionError) Error() string {
	if e.Option == "" {
		return "invalid option"
	}
	return fmt.Sprintf("invalid option %s=%g: %s", e.Option, e.Value, e.Reason)
}

func (e *OptionError) Is(target error) bool {
	_, ok := target.(*OptionError)
	return ok
}
