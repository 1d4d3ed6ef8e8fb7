package match

// drawPixel writes an RGBA value at offset pos of out.
func drawPixel(out []byte, pos int, r, g, b, a uint8) {
	out[pos+0] = r
	out[pos+1] = g
	out[pos+2] = b
	out[pos+3] = a
}

// drawGrayPixel writes the brightness of the img pixel at pos blended toward
// white by alpha, keeping the source alpha channel.
func drawGrayPixel(img []byte, pos int, alpha float64, out []byte) {
	gray := rgb2y(float64(img[pos+0]), float64(img[pos+1]), float64(img[pos+2]))
	v := uint8(blend(gray, alpha))
	drawPixel(out, pos, v, v, v, img[pos+3])
}

// render writes the output pixel for one classified position.
func (c *comparer) render(pos int, class Classification) {
	switch class {
	case Different:
		col := c.opts.DiffColor
		drawPixel(c.output, pos, col[0], col[1], col[2], 255)
	case AntiAliased:
		if c.opts.DiffMask {
			drawPixel(c.output, pos, 0, 0, 0, 0)
			return
		}
		col := c.opts.AAColor
		drawPixel(c.output, pos, col[0], col[1], col[2], 255)
	default:
		if c.opts.DiffMask {
			drawPixel(c.output, pos, 0, 0, 0, 0)
			return
		}
		drawGrayPixel(c.img1, pos, c.opts.Alpha, c.output)
	}
}

// renderBackdrop renders rows [y0, y1) as unchanged.
func (c *comparer) renderBackdrop(y0, y1 int) {
	if c.output == nil {
		return
	}
	start, end := y0*c.width*4, y1*c.width*4
	if c.opts.DiffMask {
		clear(c.output[start:end])
		return
	}
	for pos := start; pos < end; pos += 4 {
		drawGrayPixel(c.img1, pos, c.opts.Alpha, c.output)
	}
}
