// SPDX-License-Identifier: MIT
package dsp

import "time"

// Buffer is a fixed-capacity block of interleaved, normalised samples.
// It is produced by a capture source, owned by one stage at a time and
// never retained past the render cycle that delivered it.
type Buffer struct {
	Samples  []float64     // Interleaved samples, capacity FramesPerBuffer*Channels
	Frames   int           // Number of valid frames
	Channels int           // Samples per frame
	Time     time.Duration // Capture timestamp relative to stream start
}

// NewBuffer allocates a buffer sized for one full block of format f.
func NewBuffer(f Format) *Buffer {
	return &Buffer{
		Samples:  make([]float64, f.Samples()),
		Frames:   f.FramesPerBuffer,
		Channels: f.Channels,
	}
}

// Data returns the valid interleaved samples.
func (b *Buffer) Data() []float64 {
	n := b.Frames * b.Channels
	if n > len(b.Samples) {
		n = len(b.Samples)
	}
	return b.Samples[:n]
}

// Silence zeroes the valid samples.
func (b *Buffer) Silence() {
	clear(b.Data())
}

// CopyFrom copies frames, channel count and timestamp from src, truncating
// to this buffer's capacity.
func (b *Buffer) CopyFrom(src *Buffer) {
	n := copy(b.Samples, src.Data())
	b.Channels = src.Channels
	if b.Channels > 0 {
		b.Frames = n / b.Channels
	}
	b.Time = src.Time
}

// Peak returns the largest absolute sample value.
func (b *Buffer) Peak() float64 {
	var peak float64
	for _, s := range b.Data() {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
