// SPDX-License-Identifier: MIT
package analysis

import "math"

// SilenceDB is reported for a level of zero.
const SilenceDB = -120.0

// Level accumulates peak and RMS over a run of samples.
type Level struct {
	sumSquares float64
	peak       float64
	count      int
}

// Add folds samples into the running measurement.
func (l *Level) Add(samples []float64) {
	for _, s := range samples {
		l.sumSquares += s * s
		if a := math.Abs(s); a > l.peak {
			l.peak = a
		}
	}
	l.count += len(samples)
}

// Count returns the number of samples measured since the last Reset.
func (l *Level) Count() int { return l.count }

// Peak returns the largest absolute sample.
func (l *Level) Peak() float64 { return l.peak }

// RMS returns the root mean square of the measured samples.
func (l *Level) RMS() float64 {
	if l.count == 0 {
		return 0
	}
	return math.Sqrt(l.sumSquares / float64(l.count))
}

func (l *Level) Reset() { *l = Level{} }

// DBFS converts a linear amplitude to decibels relative to full scale.
func DBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return SilenceDB
	}
	return max(SilenceDB, 20*math.Log10(amplitude))
}

// RMS returns the root mean square of samples.
func RMS(samples []float64) float64 {
	var l Level
	l.Add(samples)
	return l.RMS()
}
