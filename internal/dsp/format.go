// SPDX-License-Identifier: MIT
/*
Package dsp implements the audio data model and the processing stages of
the live effects chain.

Real-time rules for everything reachable from Stage.Process:
- All state is allocated in Configure, never in Process
- Parameters are read from their slots once per buffer
- No locks, no I/O, no logging
*/
package dsp

import (
	"errors"
	"fmt"
)

// ErrFormatUnsupported is returned when a stage cannot operate at a format.
var ErrFormatUnsupported = errors.New("format unsupported")

// SampleFormat is the device-side sample representation. Stages always
// see normalised float64 samples; the format only matters to backends.
type SampleFormat int

const (
	Float32 SampleFormat = iota
	Int16
	Int32
)

func (s SampleFormat) String() string {
	switch s {
	case Float32:
		return "f32"
	case Int16:
		return "s16"
	case Int32:
		return "s32"
	default:
		return "unknown"
	}
}

// Format limits.
const (
	MinSampleRate   = 8000
	MaxSampleRate   = 192000
	MinChannels     = 1
	MaxChannels     = 2 // mono and stereo only
	MinBufferFrames = 16
	MaxBufferFrames = 8192
)

// Format is negotiated once per build and shared, unchanged, by every
// connection point in the chain.
type Format struct {
	SampleRate      float64
	Channels        int
	FramesPerBuffer int
	Sample          SampleFormat
}

// Validate checks the format against the engine limits.
func (f Format) Validate() error {
	if f.SampleRate < MinSampleRate || f.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate %.0f Hz outside [%d, %d]",
			ErrFormatUnsupported, f.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if f.Channels < MinChannels || f.Channels > MaxChannels {
		return fmt.Errorf("%w: %d channels (mono or stereo only)", ErrFormatUnsupported, f.Channels)
	}
	if f.FramesPerBuffer < MinBufferFrames || f.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("%w: %d frames per buffer outside [%d, %d]",
			ErrFormatUnsupported, f.FramesPerBuffer, MinBufferFrames, MaxBufferFrames)
	}
	switch f.Sample {
	case Float32, Int16, Int32:
	default:
		return fmt.Errorf("%w: sample format %d", ErrFormatUnsupported, f.Sample)
	}
	return nil
}

// Samples returns the number of interleaved samples in one full buffer.
func (f Format) Samples() int {
	return f.FramesPerBuffer * f.Channels
}

// Period returns the duration of one buffer in seconds.
func (f Format) Period() float64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return float64(f.FramesPerBuffer) / f.SampleRate
}

func (f Format) String() string {
	return fmt.Sprintf("%.0fHz/%dch/%dframes/%s", f.SampleRate, f.Channels, f.FramesPerBuffer, f.Sample)
}
