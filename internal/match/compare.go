// Package match implements a perceptual pixel-by-pixel image comparison.
//
// Images are flat RGBA byte buffers (row-major, 4 bytes per pixel, length
// width*height*4). Each position is classified as unchanged, anti-aliased or
// different using a YIQ color distance and an anti-aliasing detector, and an
// optional output buffer receives a rendered diff.
//
// The package holds no state between calls. Any error is returned before a
// single output byte is written.
package match

import (
	"bytes"
	"math"
)

// comparer carries everything one comparison call needs. It is read-only
// once built, so disjoint row ranges can be processed concurrently.
type comparer struct {
	img1, img2    []byte
	output        []byte
	width, height int
	opts          Options
	maxDelta      float64
	delta         deltaFunc
}

func newComparer(img1, img2 []byte, width, height int, output []byte, opts Options) (*comparer, error) {
	if err := checkDimensions(img1, img2, width, height, output); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &comparer{
		img1:     img1,
		img2:     img2,
		output:   output,
		width:    width,
		height:   height,
		opts:     opts,
		maxDelta: opts.MaxDelta(),
		delta:    colorDelta,
	}, nil
}

func checkDimensions(img1, img2 []byte, width, height int, output []byte) error {
	if width < 0 || height < 0 {
		return &DimensionError{Buffer: "size", Got: width * height * 4, Want: 0}
	}
	if len(img1) != len(img2) {
		return &DimensionError{Buffer: "img2", Got: len(img2), Want: len(img1)}
	}
	if output != nil && len(output) != len(img1) {
		return &DimensionError{Buffer: "output", Got: len(output), Want: len(img1)}
	}
	if want := width * height * 4; len(img1) != want {
		return &DimensionError{Buffer: "img1", Got: len(img1), Want: want}
	}
	return nil
}

// Compare compares img1 and img2 and returns the number of mismatched
// pixels. If output is non-nil the diff is rendered into it in place.
//
// Errors are *DimensionError (ErrDimensionMismatch) or *OptionError
// (ErrInvalidOption).
func Compare(img1, img2 []byte, width, height int, output []byte, opts Options) (int, error) {
	stats, err := CompareStats(img1, img2, width, height, output, opts)
	if err != nil {
		return 0, err
	}
	return stats.Mismatched, nil
}

// CompareStats is like Compare but also reports how many positions were
// attributed to anti-aliasing.
func CompareStats(img1, img2 []byte, width, height int, output []byte, opts Options) (Stats, error) {
	c, err := newComparer(img1, img2, width, height, output, opts)
	if err != nil {
		return Stats{}, err
	}
	return c.run(), nil
}

// HasDiff reports whether at least one position is classified different.
// It stops at the first one and renders nothing.
func HasDiff(img1, img2 []byte, width, height int, opts Options) (bool, error) {
	c, err := newComparer(img1, img2, width, height, nil, opts)
	if err != nil {
		return false, err
	}
	if bytes.Equal(img1, img2) {
		return false, nil
	}

	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			if c.classify(x, y, (y*c.width+x)*4) == Different {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *comparer) run() Stats {
	if bytes.Equal(c.img1, c.img2) {
		c.renderBackdrop(0, c.height)
		return Stats{Total: c.width * c.height}
	}
	return c.rows(0, c.height)
}

// rows classifies and renders every position of rows [y0, y1).
func (c *comparer) rows(y0, y1 int) Stats {
	var s Stats
	pos := y0 * c.width * 4
	for y := y0; y < y1; y++ {
		for x := 0; x < c.width; x++ {
			class := c.classify(x, y, pos)
			switch class {
			case Different:
				s.Mismatched++
			case AntiAliased:
				s.AntiAliased++
			}
			if c.output != nil {
				c.render(pos, class)
			}
			pos += 4
		}
	}
	s.Total = (y1 - y0) * c.width
	return s
}

// classify decides the outcome of the position (x, y) at byte offset pos.
func (c *comparer) classify(x, y, pos int) Classification {
	// bit-identical pixels never reach the metric
	if samePixel(c.img1, c.img2, pos, pos) {
		return Unchanged
	}

	delta := c.delta(c.img1, c.img2, pos, pos, false)
	if math.Abs(delta) <= c.maxDelta {
		return Unchanged
	}

	if c.opts.IncludeAA {
		return Different
	}
	if antialiased(c.img1, x, y, c.width, c.height, c.img2) ||
		antialiased(c.img2, x, y, c.width, c.height, c.img1) {
		return AntiAliased
	}
	return Different
}
