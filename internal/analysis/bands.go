// SPDX-License-Identifier: MIT
package analysis

import "math"

// Band is a named frequency range.
type Band struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// DefaultBands split the voice range into bass, body, presence and air.
var DefaultBands = []Band{
	{Name: "sub", LowHz: 20, HighHz: 60},
	{Name: "bass", LowHz: 60, HighHz: 250},
	{Name: "lowMid", LowHz: 250, HighHz: 500},
	{Name: "mid", LowHz: 500, HighHz: 2000},
	{Name: "highMid", LowHz: 2000, HighHz: 4000},
	{Name: "treble", LowHz: 4000, HighHz: math.Inf(1)},
}

// BandLevel is the RMS magnitude of one band, in linear units and dBFS.
type BandLevel struct {
	Name  string  `json:"name"`
	Level float64 `json:"level"`
	DB    float64 `json:"db"`
}

// BandEnergy computes the average energy of each band from the latest
// spectrum into dst, which must have len(bands) elements. Magnitudes are
// normalised by half the FFT size.
func BandEnergy(s *Spectrum, bands []Band, dst []BandLevel) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	norm := 2 / float64(s.size)
	nyquist := s.sampleRate / 2
	res := s.sampleRate / float64(s.size)

	for i, b := range bands {
		hi := math.Min(b.HighHz, nyquist)
		var energy float64
		var n int
		for bin := range s.magnitude {
			f := float64(bin) * res
			if f < b.LowHz || f >= hi {
				continue
			}
			m := s.magnitude[bin] * norm
			energy += m * m
			n++
		}
		level := 0.0
		if n > 0 {
			level = math.Sqrt(energy / float64(n))
		}
		dst[i] = BandLevel{Name: b.Name, Level: level, DB: DBFS(level)}
	}
}
