// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-two helpers used to size the
circular buffers and FFT workspaces of the effects engine.

Ring buffers sized to a power of two can wrap their read and write
indices with a mask instead of a modulo or a branch, which keeps the
per-sample cost of the delay and pitch stages constant:

	size := bitint.NextPowerOfTwo(maxDelaySamples + 1)
	mask := bitint.Mask(size)
	read := (write - delay) & mask

All functions are allocation free and safe to call from the render path.

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers of two are preserved: for 8, bits.Len(7) = 3 and 1<<3 = 8, while
bits.Len(8) would give 4 and double the input.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size.
// Zero and negative sizes return 1.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Mask returns size-1 for a power-of-two size, the value used to wrap ring
// indices. It panics when size is not a power of two, since a wrong mask
// silently corrupts audio.
func Mask(size int) int {
	if !IsPowerOfTwo(size) {
		panic("bitint: mask requires a power of two size")
	}
	return size - 1
}

// Log2 returns log2(n) for a power of two n.
func Log2(n int) int {
	if !IsPowerOfTwo(n) {
		return -1
	}
	return bits.TrailingZeros(uint(n))
}
