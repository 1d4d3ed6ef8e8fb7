package match

// antialiased reports whether the pixel at (x1, y1) of img is likely part of
// anti-aliasing, based on "Anti-aliased Pixel and Intensity Slope Detector"
// by V. Vysniauskas, 2009. img2 is the other image; the slope found in img
// must be backed by a hard edge present in both images.
//
// Neighbors are visited column by column (x outer, y inner) over the 3×3
// window clamped to the image. The first neighbor reaching a strictly lower
// (or higher) brightness delta wins, so ties resolve to the earliest one.
func antialiased(img []byte, x1, y1, width, height int, img2 []byte) bool {
	x0 := max(x1-1, 0)
	y0 := max(y1-1, 0)
	x2 := min(x1+1, width-1)
	y2 := min(y1+1, height-1)
	pos := (y1*width + x1) * 4

	// pixels on the border count as having one equal sibling already
	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}

	var minDelta, maxDelta float64
	var minX, minY, maxX, maxY int

	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}

			delta := colorDelta(img, img, pos, (y*width+x)*4, true)

			switch {
			case delta == 0:
				zeroes++
				// more than 2 equal siblings: a flat area, not a slope
				if zeroes > 2 {
					return false
				}
			case delta < minDelta:
				minDelta = delta
				minX, minY = x, y
			case delta > maxDelta:
				maxDelta = delta
				maxX, maxY = x, y
			}
		}
	}

	// need both a darker and a brighter sibling
	if minDelta == 0 || maxDelta == 0 {
		return false
	}

	return (hasManySiblings(img, minX, minY, width, height) && hasManySiblings(img2, minX, minY, width, height)) ||
		(hasManySiblings(img, maxX, maxY, width, height) && hasManySiblings(img2, maxX, maxY, width, height))
}

// hasManySiblings reports whether the pixel at (x1, y1) has 3+ adjacent
// pixels with exactly the same RGBA value.
func hasManySiblings(img []byte, x1, y1, width, height int) bool {
	x0 := max(x1-1, 0)
	y0 := max(y1-1, 0)
	x2 := min(x1+1, width-1)
	y2 := min(y1+1, height-1)
	pos := (y1*width + x1) * 4

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}

	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}

			if samePixel(img, img, pos, (y*width+x)*4) {
				zeroes++
				if zeroes > 2 {
					return true
				}
			}
		}
	}

	return false
}

// samePixel compares the raw RGBA bytes at offset k of a and offset m of b.
func samePixel(a, b []byte, k, m int) bool {
	return a[k] == b[m] && a[k+1] == b[m+1] && a[k+2] == b[m+2] && a[k+3] == b[m+3]
}
