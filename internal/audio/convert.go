// SPDX-License-Identifier: MIT
package audio

import (
	"encoding/binary"
	"math"

	"livefx/internal/dsp"
)

// Normalisation factors for integer device formats.
const (
	int16Scale = 1 << 15
	int32Scale = 1 << 31
)

// clampUnit limits x to [-1, 1].
func clampUnit(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}

// fromFloat32 widens device samples into dst and returns the count copied.
func fromFloat32(dst []float64, src []float32) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] = float64(src[i])
	}
	return n
}

// toFloat32 narrows src into dst, clamping to full scale and zero-filling
// any remainder of dst.
func toFloat32(dst []float32, src []float64) {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] = float32(clampUnit(src[i]))
	}
	clear(dst[n:])
}

// BytesPerSample returns the size of one sample of format s.
func BytesPerSample(s dsp.SampleFormat) int {
	switch s {
	case dsp.Int16:
		return 2
	default:
		return 4
	}
}

// decodeBytes reads little-endian device samples of format s into dst and
// returns the number of samples decoded.
func decodeBytes(dst []float64, src []byte, s dsp.SampleFormat) int {
	size := BytesPerSample(s)
	n := min(len(dst), len(src)/size)
	switch s {
	case dsp.Int16:
		for i := 0; i < n; i++ {
			dst[i] = float64(int16(binary.LittleEndian.Uint16(src[i*2:]))) / int16Scale
		}
	case dsp.Int32:
		for i := 0; i < n; i++ {
			dst[i] = float64(int32(binary.LittleEndian.Uint32(src[i*4:]))) / int32Scale
		}
	default:
		for i := 0; i < n; i++ {
			dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:])))
		}
	}
	return n
}

// encodeBytes writes src as little-endian device samples of format s,
// clamping to full scale and zero-filling the rest of dst.
func encodeBytes(dst []byte, src []float64, s dsp.SampleFormat) {
	size := BytesPerSample(s)
	n := min(len(src), len(dst)/size)
	switch s {
	case dsp.Int16:
		for i := 0; i < n; i++ {
			v := math.Round(clampUnit(src[i]) * (int16Scale - 1))
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(v)))
		}
	case dsp.Int32:
		for i := 0; i < n; i++ {
			v := math.Round(clampUnit(src[i]) * (int32Scale - 1))
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(int32(v)))
		}
	default:
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(float32(clampUnit(src[i]))))
		}
	}
	clear(dst[n*size:])
}
