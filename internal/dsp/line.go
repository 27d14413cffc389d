// SPDX-License-Identifier: MIT
package dsp

import "livefx/pkg/bitint"

// line is a mono circular delay line with a power-of-two size, so index
// wrapping is a single mask.
type line struct {
	buf   []float64
	mask  int
	write int
}

func newLine(minSize int) line {
	size := bitint.NextPowerOfTwo(minSize)
	return line{
		buf:  make([]float64, size),
		mask: bitint.Mask(size),
	}
}

// push stores the newest sample. After push, read(0) returns it.
func (l *line) push(x float64) {
	l.buf[l.write] = x
	l.write = (l.write + 1) & l.mask
}

// read returns the sample pushed delay samples ago.
func (l *line) read(delay int) float64 {
	return l.buf[(l.write-1-delay)&l.mask]
}

// readFrac reads a fractional delay with 4-point Hermite interpolation.
// delay must be >= 1 so the newer neighbour exists.
func (l *line) readFrac(delay float64) float64 {
	p := int(delay)
	t := delay - float64(p)
	return hermite4(t, l.read(p-1), l.read(p), l.read(p+1), l.read(p+2))
}

func (l *line) reset() {
	clear(l.buf)
	l.write = 0
}

// hermite4 is the 4-point, 3rd-order Hermite interpolator between x0 and x1.
func hermite4(t, xm1, x0, x1, x2 float64) float64 {
	c0 := x0
	c1 := 0.5 * (x1 - xm1)
	c2 := xm1 - 2.5*x0 + 2*x1 - 0.5*x2
	c3 := 0.5*(x2-xm1) + 1.5*(x0-x1)
	return ((c3*t+c2)*t+c1)*t + c0
}
