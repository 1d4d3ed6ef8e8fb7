package match

import (
	"bytes"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// CompareConcurrent is CompareStats with the image split into horizontal
// bands processed by up to workers goroutines. Each band writes a disjoint
// part of output and returns its own partial Stats; the partial sums are
// added after all bands finish, so the result equals CompareStats.
//
// workers <= 0 uses GOMAXPROCS.
func CompareConcurrent(img1, img2 []byte, width, height int, output []byte, opts Options, workers int) (Stats, error) {
	c, err := newComparer(img1, img2, width, height, output, opts)
	if err != nil {
		return Stats{}, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	identical := bytes.Equal(img1, img2)
	bands := splitRows(height, workers)
	partial := make([]Stats, len(bands))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, b := range bands {
		i, b := i, b
		g.Go(func() error {
			if identical {
				c.renderBackdrop(b.start, b.end)
				partial[i] = Stats{Total: (b.end - b.start) * width}
				return nil
			}
			partial[i] = c.rows(b.start, b.end)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	var total Stats
	for _, s := range partial {
		total.add(s)
	}
	return total, nil
}

type rowBand struct {
	start, end int
}

// splitRows divides [0, height) into at most n contiguous bands whose sizes
// differ by at most one row.
func splitRows(height, n int) []rowBand {
	if height <= 0 {
		return nil
	}
	n = min(n, height)

	bands := make([]rowBand, 0, n)
	size, extra := height/n, height%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		bands = append(bands, rowBand{start: start, end: end})
		start = end
	}
	return bands
}
