// SPDX-License-Identifier: MIT
/*
Package analysis measures the processed output: level, spectrum, band
energies and dominant frequency. It runs on the control side, fed by a
non-blocking tap, and publishes telemetry to the control surface.
*/
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"livefx/pkg/bitint"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

var (
	ErrFFTSize    = errors.New("fft size must be a power of 2")
	ErrSampleRate = errors.New("sample rate must be positive")
)

// Spectrum computes windowed magnitude spectra with a reusable gonum FFT.
// All buffers are allocated once; Analyze does not allocate.
type Spectrum struct {
	fft        *fourier.FFT
	size       int
	sampleRate float64

	mu        sync.RWMutex
	input     []float64
	coeffs    []complex128
	magnitude []float64
	window    []float64
}

// NewSpectrum creates an analyzer for blocks of size samples (a power of
// two) at sampleRate.
func NewSpectrum(size int, sampleRate float64, wf WindowFunc) (*Spectrum, error) {
	if !bitint.IsPowerOfTwo(size) || size < 4 {
		return nil, fmt.Errorf("%w, got %d", ErrFFTSize, size)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w, got %f", ErrSampleRate, sampleRate)
	}

	bins := size/2 + 1
	coeffs := make([]float64, size)
	applyWindow(coeffs, wf)

	return &Spectrum{
		fft:        fourier.NewFFT(size),
		size:       size,
		sampleRate: sampleRate,
		input:      make([]float64, size),
		coeffs:     make([]complex128, bins),
		magnitude:  make([]float64, bins),
		window:     coeffs,
	}, nil
}

// Analyze windows samples (zero-padded or truncated to the FFT size) and
// updates the magnitude spectrum.
func (s *Spectrum) Analyze(samples []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(samples)
	for i := range s.size {
		if i < n {
			s.input[i] = samples[i] * s.window[i]
		} else {
			s.input[i] = 0
		}
	}

	s.fft.Coefficients(s.coeffs, s.input)
	for i, c := range s.coeffs {
		s.magnitude[i] = cmplx.Abs(c)
	}
}

// Magnitudes returns a copy of the latest magnitude spectrum.
func (s *Spectrum) Magnitudes() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float64(nil), s.magnitude...)
}

// MagnitudesInto copies the latest spectrum into dst, which must have
// Bins() elements.
func (s *Spectrum) MagnitudesInto(dst []float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(dst) != len(s.magnitude) {
		return fmt.Errorf("destination length %d does not match %d bins", len(dst), len(s.magnitude))
	}
	copy(dst, s.magnitude)
	return nil
}

// FrequencyForBin returns the centre frequency of bin in Hz.
func (s *Spectrum) FrequencyForBin(bin int) float64 {
	if bin < 0 || bin >= len(s.magnitude) {
		return 0
	}
	return float64(bin) * s.sampleRate / float64(s.size)
}

func (s *Spectrum) Size() int { return s.size }

func (s *Spectrum) Bins() int { return len(s.magnitude) }

func (s *Spectrum) SampleRate() float64 { return s.sampleRate }

// PeakFrequency returns the frequency of the strongest component between
// minHz and maxHz, refined by parabolic interpolation over the
// neighbouring bins. It returns 0 when the range holds no energy.
func (s *Spectrum) PeakFrequency(minHz, maxHz float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := s.sampleRate / float64(s.size)
	lo := max(1, int(math.Ceil(minHz/res)))
	hi := min(len(s.magnitude)-1, int(math.Floor(maxHz/res)))
	if lo > hi {
		return 0
	}

	peak := peakBin(s.magnitude, lo, hi)
	if s.magnitude[peak] == 0 {
		return 0
	}

	offset := 0.0
	if peak > 0 && peak < len(s.magnitude)-1 {
		a, b, c := s.magnitude[peak-1], s.magnitude[peak], s.magnitude[peak+1]
		if d := a - 2*b + c; d != 0 {
			offset = 0.5 * (a - c) / d
		}
	}
	return (float64(peak) + offset) * res
}

// PeakFrequency returns the dominant frequency of samples using a Hann
// window over the largest power-of-two tail of the slice.
func PeakFrequency(samples []float64, sampleRate float64) float64 {
	n := len(samples)
	if !bitint.IsPowerOfTwo(n) {
		n = bitint.NextPowerOfTwo(n) / 2
	}
	if n < 4 {
		return 0
	}
	s, err := NewSpectrum(n, sampleRate, Hann)
	if err != nil {
		return 0
	}
	s.Analyze(samples[len(samples)-n:])
	return s.PeakFrequency(0, sampleRate/2)
}

func peakBin(magnitudes []float64, start, end int) int {
	peak := start
	for bin := start + 1; bin <= end; bin++ {
		if magnitudes[bin] > magnitudes[peak] {
			peak = bin
		}
	}
	return peak
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Hann) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow fills coeffs with the window of type wf, Hann if unknown.
func applyWindow(coeffs []float64, wf WindowFunc) {
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch wf {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		window.Hann(coeffs)
	}
}
