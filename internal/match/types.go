package match

import (
	"fmt"
	"math"
)

// maxYIQDelta is the maximum possible value for the YIQ difference metric.
// A pair of pixels is different when |delta| exceeds threshold² · maxYIQDelta.
const maxYIQDelta = 35215

// RGB is an opaque marker color used when rendering the diff output.
type RGB [3]uint8

func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

// Classification is the outcome of comparing one pixel position.
type Classification int

const (
	Unchanged   Classification = iota // Identical or below threshold
	AntiAliased                       // Above threshold, attributed to anti-aliasing
	Different                         // Counted as a mismatch
)

func (c Classification) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case AntiAliased:
		return "anti-aliased"
	case Different:
		return "different"
	default:
		return "unknown"
	}
}

// Options configures a single comparison. It is passed by value and never
// mutated by the comparison functions.
type Options struct {
	// Threshold is the matching threshold in [0, 1]; smaller is more sensitive.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// IncludeAA disables anti-aliasing detection: anti-aliased pixels are
	// counted as different.
	IncludeAA bool `json:"includeAA" yaml:"includeAA"`

	// Alpha is the opacity in [0, 1] of the faded original image drawn
	// behind the markers.
	Alpha float64 `json:"alpha" yaml:"alpha"`

	// AAColor marks anti-aliased pixels.
	AAColor RGB `json:"aaColor" yaml:"aaColor"`

	// DiffColor marks different pixels.
	DiffColor RGB `json:"diffColor" yaml:"diffColor"`

	// DiffMask draws the markers over a transparent background and never
	// draws anti-aliased pixels.
	DiffMask bool `json:"diffMask" yaml:"diffMask"`
}

// DefaultOptions returns the default comparison options.
func DefaultOptions() Options {
	return Options{
		Threshold: 0.1,
		IncludeAA: false,
		Alpha:     0.1,
		AAColor:   RGB{255, 255, 0},
		DiffColor: RGB{255, 0, 0},
		DiffMask:  false,
	}
}

// Validate reports an *OptionError if a value lies outside its domain.
func (o Options) Validate() error {
	if !inUnitRange(o.Threshold) {
		return &OptionError{Option: "threshold", Value: o.Threshold, Reason: "must be within [0, 1]"}
	}
	if !inUnitRange(o.Alpha) {
		return &OptionError{Option: "alpha", Value: o.Alpha, Reason: "must be within [0, 1]"}
	}
	return nil
}

// MaxDelta is the largest squared YIQ distance still considered a match.
func (o Options) MaxDelta() float64 {
	return maxYIQDelta * o.Threshold * o.Threshold
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Stats summarizes the classifications of one comparison.
type Stats struct {
	Mismatched  int `json:"mismatched"`
	AntiAliased int `json:"antiAliased"`
	Total       int `json:"total"`
}

// Percent returns the share of mismatched pixels in [0, 100].
func (s Stats) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Mismatched) * 100 / float64(s.Total)
}

func (s *Stats) add(o Stats) {
	s.Mismatched += o.Mismatched
	s.AntiAliased += o.AntiAliased
	s.Total += o.Total
}
