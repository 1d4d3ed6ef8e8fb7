package imgutil

import (
	"image"

	"github.com/cwbudde/pixelmatch/internal/match"
)

// Result is the outcome of comparing two decoded images.
type Result struct {
	match.Stats
	Diff *image.NRGBA
}

// Compare compares two images of equal size and renders the diff image.
// Images of different size yield an error matching match.ErrDimensionMismatch.
func Compare(a, b image.Image, opts match.Options) (*Result, error) {
	return CompareWorkers(a, b, opts, 1)
}

// CompareWorkers is Compare spread over workers goroutines; workers <= 0
// uses every available CPU.
func CompareWorkers(a, b image.Image, opts match.Options, workers int) (*Result, error) {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return nil, &match.DimensionError{
			Buffer: "candidate",
			Got:    bb.Dx() * bb.Dy() * 4,
			Want:   ab.Dx() * ab.Dy() * 4,
		}
	}

	img1, img2 := ToNRGBA(a), ToNRGBA(b)
	w, h := ab.Dx(), ab.Dy()
	diff := image.NewNRGBA(image.Rect(0, 0, w, h))

	var (
		stats match.Stats
		err   error
	)
	if workers == 1 {
		stats, err = match.CompareStats(img1.Pix, img2.Pix, w, h, diff.Pix, opts)
	} else {
		stats, err = match.CompareConcurrent(img1.Pix, img2.Pix, w, h, diff.Pix, opts, workers)
	}
	if err != nil {
		return nil, err
	}
	return &Result{Stats: stats, Diff: diff}, nil
}
