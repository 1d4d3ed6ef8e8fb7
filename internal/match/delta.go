package match

// Perceptual color difference in YIQ space, after "Measuring perceived color
// difference using YIQ NTSC transmission color space in mobile applications"
// by Y. Kotsarenko and F. Ramos.
//
// Pixels are never materialized: both buffers are addressed by byte offset
// (k in img1, m in img2) so the hot loop stays allocation free.

// deltaFunc is the signature of colorDelta; the comparer holds one so the
// loop can be instrumented in tests.
type deltaFunc func(img1, img2 []byte, k, m int, yOnly bool) float64

// colorDelta returns the squared YIQ distance between the pixel at offset k
// in img1 and the pixel at offset m in img2, negated when the second pixel is
// brighter. With yOnly set it returns the signed brightness difference Y1-Y2.
func colorDelta(img1, img2 []byte, k, m int, yOnly bool) float64 {
	r1, g1, b1, a1 := float64(img1[k]), float64(img1[k+1]), float64(img1[k+2]), float64(img1[k+3])
	r2, g2, b2, a2 := float64(img2[m]), float64(img2[m+1]), float64(img2[m+2]), float64(img2[m+3])

	if a1 == a2 && r1 == r2 && g1 == g2 && b1 == b2 {
		return 0
	}

	if a1 < 255 {
		a1 /= 255
		r1, g1, b1 = blend(r1, a1), blend(g1, a1), blend(b1, a1)
	}
	if a2 < 255 {
		a2 /= 255
		r2, g2, b2 = blend(r2, a2), blend(g2, a2), blend(b2, a2)
	}

	y := rgb2y(r1, g1, b1) - rgb2y(r2, g2, b2)
	if yOnly {
		return y
	}

	i := rgb2i(r1, g1, b1) - rgb2i(r2, g2, b2)
	q := rgb2q(r1, g1, b1) - rgb2q(r2, g2, b2)

	d := 0.5053*y*y + 0.299*i*i + 0.1957*q*q
	if y < 0 {
		return -d
	}
	return d
}

func rgb2y(r, g, b float64) float64 {
	return r*0.29889531 + g*0.58662247 + b*0.11448223
}

func rgb2i(r, g, b float64) float64 {
	return r*0.59597799 - g*0.27417610 - b*0.32180189
}

func rgb2q(r, g, b float64) float64 {
	return r*0.21147017 - g*0.52261711 + b*0.31114694
}

// blend mixes a channel value with white; a is the opacity in [0, 1].
func blend(c, a float64) float64 {
	return 255 + (c-255)*a
}
