// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"sync"
)

// MockTransport records everything sent to it. It satisfies the publisher
// interfaces of the analysis and transport packages.
type MockTransport struct {
	mu   sync.Mutex
	sent []any
}

// Send stores data for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := data.([]float64); ok {
		data = append([]float64(nil), f...)
	}
	m.sent = append(m.sent, data)
	return nil
}

// Sent returns a copy of every value sent so far.
func (m *MockTransport) Sent() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.sent...)
}

// Last returns the most recent value, or nil.
func (m *MockTransport) Last() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

func (m *MockTransport) Close() error { return nil }

// Tone is a phase-continuous sine oscillator for feeding test signals
// block by block.
type Tone struct {
	Frequency  float64
	Amplitude  float64
	SampleRate float64
	phase      float64
}

// Fill writes len(dst)/channels frames of the tone into dst, the same
// sample on every channel.
func (t *Tone) Fill(dst []float64, channels int) {
	if channels < 1 {
		channels = 1
	}
	step := 2 * math.Pi * t.Frequency / t.SampleRate
	for i := 0; i+channels <= len(dst); i += channels {
		s := t.Amplitude * math.Sin(t.phase)
		for c := 0; c < channels; c++ {
			dst[i+c] = s
		}
		t.phase += step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
}

// GenerateSineWave returns size mono samples of a sine at 0.9 full scale.
func GenerateSineWave(size int, sampleRate, frequency float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = math.Sin(2*math.Pi*frequency*t) * 0.9
	}
	return buffer
}

// GenerateComplexWave returns a 440 Hz fundamental with two harmonics.
func GenerateComplexWave(size int, sampleRate float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = signal * 0.9
	}
	return buffer
}

// Impulse returns size samples that are zero except for 1 at index 0.
func Impulse(size int) []float64 {
	buffer := make([]float64, size)
	if size > 0 {
		buffer[0] = 1
	}
	return buffer
}

func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}

// PeakAbs returns the largest absolute value in samples.
func PeakAbs(samples []float64) float64 {
	var peak float64
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(s))
	}
	return peak
}
